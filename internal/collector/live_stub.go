//go:build !linux

package collector

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// LiveSource is unavailable on this platform; Run always fails.
type LiveSource struct {
	log   logrus.FieldLogger
	iface string
}

// NewLiveSource creates a LiveSource for iface.
func NewLiveSource(log logrus.FieldLogger, iface string, _ int) *LiveSource {
	return &LiveSource{
		log:   log.WithField("source", "live"),
		iface: iface,
	}
}

// Name returns the source identifier.
func (s *LiveSource) Name() string {
	return "live"
}

// Run returns an error: live capture requires linux.
func (s *LiveSource) Run(_ context.Context, _ FrameHandler) error {
	return errors.New("live capture is only supported on linux")
}
