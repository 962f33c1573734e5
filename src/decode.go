package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/TylerBrock/colorjson"
	"github.com/bytedance/sonic"
	"github.com/sandrolain/uplink-bridge/src/payload"
	"github.com/sandrolain/uplink-bridge/src/uplink"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:     "decode <base64|hex>",
		Short:   "Decode a station payload and print its measurements",
		Example: "  uplink-bridge decode MogCEAEAAAA=\n  uplink-bridge decode 3288021001000000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := parsePayloadArg(args[0])
			if err != nil {
				return err
			}
			set, err := payload.Decode(buf)
			if err != nil {
				return err
			}
			out, err := formatSet(set, !noColor)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Print plain JSON")
	return cmd
}

// parsePayloadArg accepts a hex string (optionally 0x prefixed) or base64.
func parsePayloadArg(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(h)%2 == 0 && len(h) >= 2*payload.MinLength {
		if buf, err := hex.DecodeString(h); err == nil {
			return buf, nil
		}
	}
	return uplink.DecodeBase64(s)
}

func formatSet(set payload.MeasurementSet, colored bool) ([]byte, error) {
	data, err := sonic.Marshal(set)
	if err != nil {
		return nil, err
	}
	if !colored {
		return data, nil
	}
	var obj map[string]any
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	f := colorjson.NewFormatter()
	f.Indent = 2
	return f.Marshal(obj)
}
