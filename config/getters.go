package config

import (
	"reflect"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("field not found")

// Options are free-form settings of a single source, as decoded from YAML.
// Nested maps are addressed with dotted field names.
type Options map[string]interface{}

type Option func(options *getterOptions)

type getterOptions struct {
	withDefault  bool
	defaultValue interface{}
}

func getOptions(opts ...Option) *getterOptions {
	defaultOptions := &getterOptions{}
	for _, opt := range opts {
		opt(defaultOptions)
	}
	return defaultOptions
}

func WithDefault(value interface{}) Option {
	return func(options *getterOptions) {
		options.withDefault = true
		options.defaultValue = value
	}
}

// GetInterface gets the given potentially nested field irrelevant of its type.
func GetInterface(config Options, field string) (interface{}, error) {
	for {
		i := strings.Index(field, ".")
		if i == -1 {
			element, ok := config[field]
			if !ok {
				return nil, ErrNotFound
			}
			return element, nil
		}

		element, ok := config[field[:i]]
		if !ok {
			return nil, ErrNotFound
		}
		switch submap := element.(type) {
		case map[string]interface{}:
			config = submap
		case Options:
			config = submap
		default:
			return nil, errors.Errorf("%v should be a map, got: %v", field[:i], reflect.TypeOf(element))
		}
		field = field[i+1:]
	}
}

func get[T any](config Options, field string, convert func(interface{}) (T, bool), opts ...Option) (T, error) {
	var zero T
	options := getOptions(opts...)
	out, err := GetInterface(config, field)
	if err != nil {
		if options.withDefault && errors.Cause(err) == ErrNotFound {
			return options.defaultValue.(T), nil
		}
		return zero, errors.Wrapf(err, "couldn't get %s", field)
	}

	converted, ok := convert(out)
	if !ok {
		return zero, errors.Errorf("expected %v for %s, got %v", reflect.TypeOf(zero), field, reflect.TypeOf(out))
	}
	return converted, nil
}

func GetString(config Options, field string, opts ...Option) (string, error) {
	return get(config, field, func(v interface{}) (string, bool) {
		s, ok := v.(string)
		return s, ok
	}, opts...)
}

func GetStringList(config Options, field string, opts ...Option) ([]string, error) {
	return get(config, field, func(v interface{}) ([]string, bool) {
		list, ok := v.([]interface{})
		if !ok {
			return nil, false
		}
		out := make([]string, len(list))
		for i := range list {
			s, ok := list[i].(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}, opts...)
}

func GetInt(config Options, field string, opts ...Option) (int, error) {
	return get(config, field, func(v interface{}) (int, bool) {
		i, ok := v.(int)
		return i, ok
	}, opts...)
}

func GetBool(config Options, field string, opts ...Option) (bool, error) {
	return get(config, field, func(v interface{}) (bool, bool) {
		b, ok := v.(bool)
		return b, ok
	}, opts...)
}

// GetFloat64 accepts integer values as well, since YAML decodes 1 as an int.
func GetFloat64(config Options, field string, opts ...Option) (float64, error) {
	return get(config, field, func(v interface{}) (float64, bool) {
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		}
		return 0, false
	}, opts...)
}

// GetByteSize parses sizes like "64MB". Plain integers are bytes.
func GetByteSize(config Options, field string, opts ...Option) (datasize.ByteSize, error) {
	return get(config, field, func(v interface{}) (datasize.ByteSize, bool) {
		switch x := v.(type) {
		case int:
			return datasize.ByteSize(x), x >= 0
		case string:
			var size datasize.ByteSize
			if err := size.UnmarshalText([]byte(x)); err != nil {
				return 0, false
			}
			return size, true
		}
		return 0, false
	}, opts...)
}
