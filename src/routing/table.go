package routing

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/sandrolain/uplink-bridge/src/payload"
)

var ErrTableNotFound = errors.New("routing table not found")

// Table maps a device id to its sensor name -> destination URL entries.
//
//	{"station-1": {"temperature": "http://collector/ds/1", "humidity": "..."}}
type Table map[string]map[string]string

// Route is one destination of a device.
type Route struct {
	Sensor string
	URL    string
}

// LoadTableFile reads a JSON routing table. A missing file returns an empty
// table and an error wrapping ErrTableNotFound.
func LoadTableFile(path string) (Table, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, path)
		}
		return nil, fmt.Errorf("error reading routing table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a JSON routing table.
func ParseTable(data []byte) (Table, error) {
	t := Table{}
	if err := sonic.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("error parsing routing table: %w", err)
	}
	return t, nil
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	res := make(Table, len(t))
	for dev, sensors := range t {
		s := make(map[string]string, len(sensors))
		for k, v := range sensors {
			s[k] = v
		}
		res[dev] = s
	}
	return res
}

// Routes returns the routes of a device sorted by sensor name. The boolean is
// false when the device is not in the table.
func (t Table) Routes(deviceID string) ([]Route, bool) {
	sensors, ok := t[deviceID]
	if !ok {
		return nil, false
	}
	res := make([]Route, 0, len(sensors))
	for sensor, u := range sensors {
		res = append(res, Route{Sensor: sensor, URL: u})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Sensor < res[j].Sensor })
	return res, true
}

// Devices returns the sorted device ids.
func (t Table) Devices() []string {
	res := make([]string, 0, len(t))
	for dev := range t {
		res = append(res, dev)
	}
	sort.Strings(res)
	return res
}

// Problems lists entries that can never be delivered: devices without
// routes, unknown sensor names and URLs that are not absolute http(s) URLs.
func (t Table) Problems() []error {
	var res []error
	for _, dev := range t.Devices() {
		routes, _ := t.Routes(dev)
		if len(routes) == 0 {
			res = append(res, fmt.Errorf("device %q: %w", dev, ErrNoRoutes))
			continue
		}
		for _, r := range routes {
			if _, ok := payload.ParseKind(r.Sensor); !ok {
				res = append(res, fmt.Errorf("device %q: %w: %q", dev, ErrUnknownSensor, r.Sensor))
			}
			if err := ValidateURL(r.URL); err != nil {
				res = append(res, fmt.Errorf("device %q sensor %q: %w", dev, r.Sensor, err))
			}
		}
	}
	return res
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrMalformedURL)
	}
	return nil
}
