package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// AWSCredentials is loaded once from the aws_credentials file and handed to the
// object-store adapters. It is never copied into the process environment.
type AWSCredentials struct {
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	region          string
}

func (c AWSCredentials) AccessKeyID() string     { return c.accessKeyID }
func (c AWSCredentials) SecretAccessKey() string { return c.secretAccessKey }
func (c AWSCredentials) SessionToken() string    { return c.sessionToken }
func (c AWSCredentials) Region() string          { return c.region }

// Env renders the credentials as KEY=VALUE pairs for a child process.
func (c AWSCredentials) Env() []string {
	env := []string{
		"AWS_ACCESS_KEY_ID=" + c.accessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + c.secretAccessKey,
	}
	if c.sessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+c.sessionToken)
	}
	if c.region != "" {
		env = append(env, "AWS_DEFAULT_REGION="+c.region)
	}
	return env
}

// EarthdataCredentials authenticate scene and restituted orbit downloads.
type EarthdataCredentials struct {
	login    string
	password string
}

func (c EarthdataCredentials) Login() string    { return c.login }
func (c EarthdataCredentials) Password() string { return c.password }

// NewEarthdataCredentials builds credentials from explicit values.
func NewEarthdataCredentials(login, password string) EarthdataCredentials {
	return EarthdataCredentials{login: login, password: password}
}

// NewAWSCredentials builds credentials from explicit values.
func NewAWSCredentials(accessKeyID, secretAccessKey, sessionToken, region string) AWSCredentials {
	return AWSCredentials{
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
		region:          region,
	}
}

// LoadAWSCredentials reads a YAML mapping of AWS_* keys.
func LoadAWSCredentials(path string) (AWSCredentials, error) {
	values, err := readCredentialFile(path)
	if err != nil {
		return AWSCredentials{}, err
	}
	creds := AWSCredentials{
		accessKeyID:     values["AWS_ACCESS_KEY_ID"],
		secretAccessKey: values["AWS_SECRET_ACCESS_KEY"],
		sessionToken:    values["AWS_SESSION_TOKEN"],
		region:          firstNonEmpty(values["AWS_DEFAULT_REGION"], values["AWS_REGION"]),
	}
	if creds.accessKeyID == "" || creds.secretAccessKey == "" {
		return AWSCredentials{}, fmt.Errorf("%w: %s lacks AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY", domain.ErrCredentials, path)
	}
	return creds, nil
}

// LoadEarthdataCredentials reads a YAML mapping with login and password keys.
func LoadEarthdataCredentials(path string) (EarthdataCredentials, error) {
	values, err := readCredentialFile(path)
	if err != nil {
		return EarthdataCredentials{}, err
	}
	creds := EarthdataCredentials{login: values["login"], password: values["password"]}
	if creds.login == "" || creds.password == "" {
		return EarthdataCredentials{}, fmt.Errorf("%w: %s lacks login or password", domain.ErrCredentials, path)
	}
	return creds, nil
}

func readCredentialFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: no credential file configured", domain.ErrCredentials)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrCredentials, path, err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrCredentials, path, err)
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
