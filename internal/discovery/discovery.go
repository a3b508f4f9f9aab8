// Package discovery advertises a running server over mDNS/DNS-SD, grounded
// on the teacher's cmd/can-server/mdns.go (zeroconf.Register plus a
// ctx/done-guarded shutdown goroutine).
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// Start registers instance under serviceType (e.g. "_speedd._tcp") at port,
// with the given TXT metadata, and returns a cleanup function. If enable is
// false, Start is a no-op that returns a no-op cleanup. Safe to call
// unconditionally from main.
func Start(ctx context.Context, enable bool, instance, serviceType string, port int, meta []string) (func(), error) {
	if !enable {
		return func() {}, nil
	}
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("%s-%s", serviceType, host)
	}
	svc, err := zeroconf.Register(instance, serviceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
