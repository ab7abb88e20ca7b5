package registry

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tictactoe-room-server/internal/game"
)

// Sweeper is the idle-room sweeper (C10, §4.9): a periodic scan that
// removes rooms stuck waiting for a second player or left with every
// seat disconnected.
type Sweeper struct {
	registry    *Registry
	bus         game.Broadcaster
	idleTimeout time.Duration
	cron        *cron.Cron
}

// NewSweeper wires a sweeper to its registry/broadcaster. It does not
// start scanning until Start is called.
func NewSweeper(registry *Registry, bus game.Broadcaster, idleTimeout time.Duration) *Sweeper {
	return &Sweeper{
		registry:    registry,
		bus:         bus,
		idleTimeout: idleTimeout,
		cron:        cron.New(),
	}
}

// Start schedules the sweep on an "@every Ns" spec built from interval,
// replacing the teacher's hand-rolled time.Ticker loop (§4.9 default
// roomSweepIntervalSeconds=60).
func (s *Sweeper) Start(interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval.String())
	_, err := s.cron.AddFunc(spec, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule; in-flight sweeps finish.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("idle sweep panicked, recovered")
		}
	}()

	for _, room := range s.registry.GetAll() {
		if !room.IsIdleForCleanup(s.idleTimeout) {
			continue
		}

		s.bus.SendToGroup(room.Code, "GameOver", map[string]interface{}{
			"roomCode":   room.Code,
			"result":     "Cancelled",
			"isGameOver": true,
			"message":    "Room expired due to inactivity",
		})
		s.registry.RemoveRoom(room.Code)
		logrus.WithField("room", room.Code).Info("swept idle room")
	}
}
