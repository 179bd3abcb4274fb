package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/iancoleman/strcase"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "WORLDBUILDER"

// EnvName returns the override variable for a field path given as Go field
// names, e.g. EnvName("World", "Erosion", "FlowLoss") is
// WORLDBUILDER_WORLD_EROSION_FLOW_LOSS.
func EnvName(path ...string) string {
	name := EnvPrefix
	for _, p := range path {
		name += "_" + strcase.ToScreamingSnake(p)
	}
	return name
}

// ApplyEnv overwrites settings with every variable lookup knows about.
// lookup has the signature of os.LookupEnv.
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	return applyEnv(reflect.ValueOf(s).Elem(), nil, lookup)
}

func applyEnv(v reflect.Value, path []string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldPath := append(path[:len(path):len(path)], field.Name)
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			if err := applyEnv(fv, fieldPath, lookup); err != nil {
				return err
			}
			continue
		}

		name := EnvName(fieldPath...)
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", name, raw, err)
		}
	}
	return nil
}

func setField(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported setting kind %s", v.Kind())
	}
	return nil
}
