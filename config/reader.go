package config

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal config")
	}
	conf, err := FromAttributes(attributes)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(originalPath); err != nil {
		return nil, err
	}
	return conf, nil
}

// FromAttributes decodes an attribute map onto the defaults. Unknown keys are an error.
// The result is not validated.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	conf := Defaults()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   &conf,
		Metadata: &md,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config attributes")
	}
	if len(md.Unused) > 0 {
		unused := append([]string(nil), md.Unused...)
		sort.Strings(unused)
		return nil, errors.Errorf("unknown config keys: %s", strings.Join(unused, ", "))
	}
	return &conf, nil
}
