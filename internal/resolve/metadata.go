package resolve

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

// ErrMetadataParse is the sentinel returned when devcontainer-feature.json
// fails to parse or lacks a required field (spec §7 MetadataParseError).
var ErrMetadataParse = errors.New("feature metadata parse error")

type metadataWire struct {
	ID            string                     `json:"id"`
	Version       string                     `json:"version"`
	ContainerEnv  map[string]string          `json:"containerEnv"`
	Mounts        []string                   `json:"mounts"`
	Init          bool                       `json:"init"`
	Privileged    bool                       `json:"privileged"`
	CapAdd        []string                   `json:"capAdd"`
	SecurityOpt   []string                   `json:"securityOpt"`
	Entrypoint    string                     `json:"entrypoint"`
	InstallsAfter []string                   `json:"installsAfter"`
	DependsOn     map[string]json.RawMessage `json:"dependsOn"`
	LegacyIDs     []string                   `json:"legacyIds"`
	CurrentID     string                     `json:"currentId"`
	Options       map[string]optionSpecWire  `json:"options"`

	OnCreateCommand      json.RawMessage `json:"onCreateCommand"`
	UpdateContentCommand json.RawMessage `json:"updateContentCommand"`
	PostCreateCommand    json.RawMessage `json:"postCreateCommand"`
	PostStartCommand     json.RawMessage `json:"postStartCommand"`
	PostAttachCommand    json.RawMessage `json:"postAttachCommand"`
	InitializeCommand    json.RawMessage `json:"initializeCommand"`
}

type optionSpecWire struct {
	Type        string          `json:"type"`
	Default     json.RawMessage `json:"default"`
	Enum        []string        `json:"enum"`
	Description string          `json:"description"`
}

// ParseMetadata decodes a devcontainer-feature.json (JSONC tolerated) into
// FeatureMetadata (spec §3, §4.6).
func ParseMetadata(raw []byte) (model.FeatureMetadata, error) {
	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}

	var wire metadataWire
	if err := json.Unmarshal(standardized, &wire); err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	if wire.ID == "" {
		return model.FeatureMetadata{}, fmt.Errorf("%w: missing required field \"id\"", ErrMetadataParse)
	}

	meta := model.FeatureMetadata{
		ID:             wire.ID,
		Version:        wire.Version,
		ContainerEnv:   wire.ContainerEnv,
		Mounts:         wire.Mounts,
		Init:           wire.Init,
		Privileged:     wire.Privileged,
		CapAdd:         wire.CapAdd,
		SecurityOpt:    wire.SecurityOpt,
		Entrypoint:     wire.Entrypoint,
		InstallsAfter:  wire.InstallsAfter,
		LegacyIDs:      wire.LegacyIDs,
		CurrentID:      wire.CurrentID,
		LifecycleHooks: map[string]any{},
	}

	if len(wire.DependsOn) > 0 {
		meta.DependsOn = make(map[string]map[string]model.OptionValue, len(wire.DependsOn))
		for featureID, rawOpts := range wire.DependsOn {
			opts, err := decodeOptionMap(rawOpts)
			if err != nil {
				return model.FeatureMetadata{}, fmt.Errorf("%w: dependsOn[%s]: %v", ErrMetadataParse, featureID, err)
			}
			meta.DependsOn[featureID] = opts
		}
	}

	if len(wire.Options) > 0 {
		meta.Options = make(map[string]model.OptionSpec, len(wire.Options))
		for name, spec := range wire.Options {
			def, err := decodeOptionValue(spec.Default)
			if err != nil {
				return model.FeatureMetadata{}, fmt.Errorf("%w: options[%s].default: %v", ErrMetadataParse, name, err)
			}
			meta.Options[name] = model.OptionSpec{
				Kind:        spec.Type,
				Default:     def,
				Enum:        spec.Enum,
				Description: spec.Description,
			}
		}
	}

	for phase, raw := range map[string]json.RawMessage{
		"onCreateCommand":      wire.OnCreateCommand,
		"updateContentCommand": wire.UpdateContentCommand,
		"postCreateCommand":    wire.PostCreateCommand,
		"postStartCommand":     wire.PostStartCommand,
		"postAttachCommand":    wire.PostAttachCommand,
		"initializeCommand":    wire.InitializeCommand,
	} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return model.FeatureMetadata{}, fmt.Errorf("%w: %s: %v", ErrMetadataParse, phase, err)
		}
		meta.LifecycleHooks[phase] = v
	}

	return meta, nil
}

func decodeOptionMap(raw json.RawMessage) (map[string]model.OptionValue, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]model.OptionValue, len(fields))
	for k, v := range fields {
		val, err := decodeOptionValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

func decodeOptionValue(raw json.RawMessage) (model.OptionValue, error) {
	if len(raw) == 0 {
		return model.OptionValue{}, nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return model.OptionValue{}, err
	}
	return convertOptionValue(generic)
}

func convertOptionValue(v any) (model.OptionValue, error) {
	switch typed := v.(type) {
	case nil:
		return model.OptionValue{}, nil
	case bool:
		return model.BoolValue(typed), nil
	case string:
		return model.StringValue(typed), nil
	case float64:
		return model.StringValue(fmt.Sprintf("%v", typed)), nil
	case map[string]any:
		out := make(map[string]model.OptionValue, len(typed))
		for k, nested := range typed {
			converted, err := convertOptionValue(nested)
			if err != nil {
				return model.OptionValue{}, err
			}
			out[k] = converted
		}
		return model.MapValue(out), nil
	default:
		return model.OptionValue{}, fmt.Errorf("unsupported option value type %T", v)
	}
}
