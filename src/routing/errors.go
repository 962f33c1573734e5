package routing

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSensor = errors.New("unknown sensor")
	ErrMalformedURL  = errors.New("malformed url")
	ErrStatus        = errors.New("non-2XX status code")
	ErrNoRoutes      = errors.New("no routes")
)

// UnknownDeviceError is returned by Dispatch when the device has no routes.
type UnknownDeviceError struct {
	DeviceID string
}

func (e *UnknownDeviceError) Error() string {
	return "unknown device: " + e.DeviceID
}

// DeliveryError describes a failed delivery to one destination.
type DeliveryError struct {
	URL    string
	Sensor string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("delivery of %s to %s failed with status %d: %v", e.Sensor, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("delivery of %s to %s failed: %v", e.Sensor, e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
