package ipc

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeArgs converts Command.Args (a map after JSON decoding) into output.
// Values are weakly typed so "10" fills an int; unknown keys are an error.
func DecodeArgs(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           output,
	})
	if err != nil {
		return fmt.Errorf("failed to build args decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to decode args: %w", err)
	}
	return nil
}
