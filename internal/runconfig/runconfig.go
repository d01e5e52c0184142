// Package runconfig renders the RTC processor runconfig for a scene.
package runconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder tokens recognised in the template.
const (
	TokenSafePath         = "SAFE_PATH"
	TokenOrbitPath        = "ORBIT_PATH"
	TokenDEMPath          = "DEM_PATH"
	TokenSceneName        = "SCENE_NAME"
	TokenScratchFolder    = "OPERA_SCRATCH_FOLDER"
	TokenOutputFolder     = "OPERA_OUTPUT_FOLDER"
	TokenPolarizationType = "POLARIZATION_TYPE"
	TokenXResolution      = "X_RESOLUTION"
	TokenYResolution      = "Y_RESOLUTION"
	TokenTargetCRS        = "TARGET_CRS"
)

// Params are the resolved values substituted into the template. Every field except
// TargetCRS is required.
type Params struct {
	SafePath         string
	OrbitPath        string
	DEMPath          string
	SceneName        string
	ScratchFolder    string
	OutputFolder     string
	PolarizationType string
	XResolution      float64
	YResolution      float64
	TargetCRS        string
}

// Validate lists every unset required field.
func (p Params) Validate() error {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("safe path", p.SafePath)
	check("orbit path", p.OrbitPath)
	check("dem path", p.DEMPath)
	check("scene name", p.SceneName)
	check("scratch folder", p.ScratchFolder)
	check("output folder", p.OutputFolder)
	check("polarization type", p.PolarizationType)
	if p.XResolution <= 0 {
		missing = append(missing, "x resolution")
	}
	if p.YResolution <= 0 {
		missing = append(missing, "y resolution")
	}
	if len(missing) > 0 {
		return fmt.Errorf("runconfig: required fields unset: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p Params) replacer() *strings.Replacer {
	return strings.NewReplacer(
		TokenScratchFolder, p.ScratchFolder,
		TokenOutputFolder, p.OutputFolder,
		TokenPolarizationType, p.PolarizationType,
		TokenSafePath, p.SafePath,
		TokenOrbitPath, p.OrbitPath,
		TokenDEMPath, p.DEMPath,
		TokenSceneName, p.SceneName,
		TokenXResolution, formatResolution(p.XResolution),
		TokenYResolution, formatResolution(p.YResolution),
		TokenTargetCRS, p.TargetCRS,
	)
}

func formatResolution(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Render substitutes every token in one pass, so values that themselves contain
// token text are never substituted again. Tokens absent from the template are ignored.
func Render(template string, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p.replacer().Replace(template), nil
}

type document struct {
	Runconfig struct {
		Groups struct {
			ProductGroup struct {
				ProductID string `yaml:"product_id"`
			} `yaml:"product_group"`
		} `yaml:"groups"`
	} `yaml:"runconfig"`
}

// ProductID parses rendered YAML and returns runconfig.groups.product_group.product_id.
func ProductID(rendered []byte) (string, error) {
	var doc document
	if err := yaml.Unmarshal(rendered, &doc); err != nil {
		return "", fmt.Errorf("runconfig: parse: %w", err)
	}
	id := strings.TrimSpace(doc.Runconfig.Groups.ProductGroup.ProductID)
	if id == "" {
		return "", errors.New("runconfig: runconfig.groups.product_group.product_id is empty")
	}
	return id, nil
}

// Rendered is a runconfig written for one scene.
type Rendered struct {
	Path      string
	ProductID string
}

// Materializer renders the template into the config folder.
type Materializer struct {
	templatePath string
	configDir    string
}

// NewMaterializer reads templates from templatePath and writes into configDir.
func NewMaterializer(templatePath, configDir string) *Materializer {
	return &Materializer{templatePath: templatePath, configDir: configDir}
}

// Materialize writes <configDir>/<scene>.yaml and extracts its product id. The file is
// only left on disk when it parses.
func (m *Materializer) Materialize(p Params) (Rendered, error) {
	tmpl, err := os.ReadFile(m.templatePath)
	if err != nil {
		return Rendered{}, fmt.Errorf("runconfig: read template: %w", err)
	}
	text, err := Render(string(tmpl), p)
	if err != nil {
		return Rendered{}, err
	}
	id, err := ProductID([]byte(text))
	if err != nil {
		return Rendered{}, err
	}

	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return Rendered{}, fmt.Errorf("runconfig: create config folder: %w", err)
	}
	path := filepath.Join(m.configDir, p.SceneName+".yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return Rendered{}, fmt.Errorf("runconfig: write: %w", err)
	}
	return Rendered{Path: path, ProductID: id}, nil
}
