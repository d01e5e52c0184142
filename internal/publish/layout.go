package publish

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// Layout builds bucket keys of the form
// <folder>/<software>/<dem type>/<epsg>/<scene prefix><scene>/<file>.
type Layout struct {
	Folder      string
	Software    string
	DEMType     string
	ScenePrefix string
}

// SceneFolder is the key prefix holding every artifact of one scene.
func (l Layout) SceneFolder(sceneName string, crs domain.CRS) string {
	return path.Join(l.Folder, l.Software, l.DEMType, strconv.Itoa(int(crs)), l.ScenePrefix+sceneName)
}

// Key places a local file in the scene folder under its base name.
func (l Layout) Key(sceneName string, crs domain.CRS, localPath string) string {
	return path.Join(l.SceneFolder(sceneName, crs), filepath.Base(localPath))
}

// SceneOutputs lists regular files directly inside dir whose names contain any of
// the given identifiers, sorted by name.
func SceneOutputs(dir string, ids ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, id := range ids {
			if id != "" && strings.Contains(e.Name(), id) {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// FirstRaster returns the first GeoTIFF in dir by name.
func FirstRaster(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list outputs: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(strings.ToLower(e.Name()), ".tif") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .tif outputs in %s", dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
