//go:build !linux

package tun

import "errors"

// Device is unsupported outside Linux: TUNSETIFF is a Linux ioctl.
type Device struct{}

func Open(name string, addr string) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) Recv(b []byte) (int, error) { return -1, errors.ErrUnsupported }
func (d *Device) Send(b []byte) (int, error) { return -1, errors.ErrUnsupported }
func (d *Device) Close() error               { return errors.ErrUnsupported }
func (d *Device) Name() string               { return "" }
