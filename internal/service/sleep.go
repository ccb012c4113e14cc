// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/whereami/internal/logger"
)

const (
	logindManager   = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"

	resumeDebounce     = 2 * time.Second
	networkWakeupDelay = 10 * time.Second
	systemBusRetry     = 10 * time.Second
	sleepSignalBuffer  = 4
)

// monitorSleepResume reloads the location whenever the system resumed from sleep. A lost system
// bus connection is re-established until ctx is cancelled.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume int64
	for {
		if err := s.watchPrepareForSleep(ctx, &lastResume); err != nil {
			s.logger.Warn("sleep monitoring interrupted", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(systemBusRetry):
		}
	}
}

// watchPrepareForSleep handles the logind PrepareForSleep signals of one system bus connection.
func (s *Service) watchPrepareForSleep(ctx context.Context, lastResume *int64) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err = conn.AddMatchSignal(dbus.WithMatchInterface(logindManager),
		dbus.WithMatchMember(prepareForSleep)); err != nil {
		return fmt.Errorf("failed to subscribe to %s.%s: %w", logindManager, prepareForSleep, err)
	}
	signals := make(chan *dbus.Signal, sleepSignalBuffer)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errors.New("system bus connection closed")
			}
			s.processSleepSignal(ctx, sig, lastResume)
		}
	}
}

// processSleepSignal reacts to the resume half of PrepareForSleep, which carries false.
func (s *Service) processSleepSignal(ctx context.Context, sig *dbus.Signal, lastResume *int64) {
	if len(sig.Body) != 1 {
		return
	}
	if sleeping, ok := sig.Body[0].(bool); !ok || sleeping {
		return
	}

	now := time.Now().UnixNano()
	last := atomic.LoadInt64(lastResume)
	if time.Duration(now-last) < resumeDebounce || !atomic.CompareAndSwapInt64(lastResume, last, now) {
		return
	}

	// The network needs a moment after resume before network-based providers work again.
	select {
	case <-ctx.Done():
		return
	case <-time.After(networkWakeupDelay):
	}
	s.logger.Debug("resumed from sleep, reloading location")
	s.post(actionReload)
}
