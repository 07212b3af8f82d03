//go:build !linux

package sysstats

import "errors"

var errUnsupported = errors.New("system probes are only implemented on linux")

func sysLoad() ([3]float64, error) {
	return [3]float64{}, errUnsupported
}

func memoryUsage() (float64, error) {
	return 0, errUnsupported
}

func diskUsage(string) (float64, error) {
	return 0, errUnsupported
}
