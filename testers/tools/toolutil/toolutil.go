package toolutil

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/TylerBrock/colorjson"
	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/go-faker/faker/v4"
	"github.com/sandrolain/uplink-bridge/src/payload"
	"github.com/spf13/cobra"
)

const CTJSON = "application/json"

// PrettyJSON pretty-prints a JSON body, returning it unchanged when it does not parse.
func PrettyJSON(body []byte) []byte {
	var obj any
	if err := sonic.Unmarshal(body, &obj); err != nil {
		return body
	}
	f := colorjson.NewFormatter()
	f.Indent = 2
	s, err := f.Marshal(obj)
	if err != nil {
		return body
	}
	return s
}

// KV represents a single key-value pair to print under a section.
type KV struct {
	Key   string
	Value string
}

// MessageSection groups related key-value pairs under a titled section.
type MessageSection struct {
	Title string
	Items []KV
}

var (
	printCounter    int
	printCountMutex sync.Mutex
)

func getNextPrintCount() int {
	printCountMutex.Lock()
	defer printCountMutex.Unlock()
	printCounter++
	return printCounter
}

// PrintColoredMessage prints a colored, consistently formatted message with sections and a JSON body.
func PrintColoredMessage(title string, sections []MessageSection, body []byte) {
	black := color.New(color.FgBlack).Add(color.ResetUnderline).PrintfFunc()
	blue := color.New(color.FgHiBlue).Add(color.Underline).PrintfFunc()
	white := color.New(color.FgWhite).Add(color.ResetUnderline).PrintfFunc()

	count := getNextPrintCount()
	black("\n-------- Message %d --------\n", count)
	black(time.Now().Format(time.RFC3339) + "\n")
	if title != "" {
		blue("%s:\n", title)
	}
	for _, s := range sections {
		if s.Title != "" {
			blue("%s:\n", s.Title)
		}
		for _, kv := range s.Items {
			white("  %s: %s\n", kv.Key, kv.Value)
		}
	}
	blue("Body:\n")
	white("%s\n\n", PrettyJSON(body))
}

// AddIntervalFlag adds a common interval flag for periodic actions.
func AddIntervalFlag(cmd *cobra.Command, interval *string, def string) {
	if def == "" {
		def = "5s"
	}
	cmd.Flags().StringVar(interval, "interval", def, "Interval between actions, e.g. 2s, 500ms, 1m")
}

// Reading is a random station reading in firmware units.
type Reading struct {
	Humidity    int `faker:"boundary_start=0, boundary_end=100"`
	Temperature int `faker:"boundary_start=300, boundary_end=950"`
	Windspeed   int `faker:"boundary_start=0, boundary_end=1200"`
}

// RandomPayload packs a random reading for the station with the given id.
func RandomPayload(id uint32) ([]byte, error) {
	var r Reading
	if err := faker.FakeData(&r); err != nil {
		return nil, err
	}
	return payload.Encode(payload.Raw{
		Humidity:    uint32(r.Humidity),
		Temperature: uint32(r.Temperature),
		Windspeed:   uint32(r.Windspeed),
		ID:          id,
	}), nil
}

// V2Uplink is the uplink document published by a TTN v2 handler.
type V2Uplink struct {
	AppID      string     `json:"app_id"`
	DevID      string     `json:"dev_id"`
	Port       int        `json:"port"`
	Counter    uint32     `json:"counter"`
	PayloadRaw string     `json:"payload_raw"`
	Metadata   V2Metadata `json:"metadata"`
}

type V2Metadata struct {
	Time string `json:"time"`
}

// BuildUplink wraps buf in a v2 uplink envelope.
func BuildUplink(appID, devID string, counter uint32, buf []byte) ([]byte, error) {
	return sonic.Marshal(V2Uplink{
		AppID:      appID,
		DevID:      devID,
		Port:       1,
		Counter:    counter,
		PayloadRaw: base64.StdEncoding.EncodeToString(buf),
		Metadata:   V2Metadata{Time: time.Now().UTC().Format(time.RFC3339Nano)},
	})
}
