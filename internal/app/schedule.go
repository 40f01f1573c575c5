package app

import (
	"github.com/rs/zerolog"

	"github.com/dshills/addonhook/internal/config"
	"github.com/dshills/addonhook/internal/lifecycle"
	"github.com/dshills/addonhook/internal/native"
	"github.com/dshills/addonhook/internal/simhost"
)

// clickEvent is the input event type delivered by event_every.
const clickEvent uint16 = 25

// schedule plays the configured addon timeline against the host.
type schedule struct {
	host   *simhost.Host
	svc    *lifecycle.Service
	addons []config.AddonConfig
	live   map[string]native.Addr
	log    zerolog.Logger
	m      *Metrics
}

func newSchedule(host *simhost.Host, svc *lifecycle.Service, addons []config.AddonConfig, log zerolog.Logger, m *Metrics) *schedule {
	return &schedule{
		host:   host,
		svc:    svc,
		addons: addons,
		live:   make(map[string]native.Addr, len(addons)),
		log:    log,
		m:      m,
	}
}

// run performs every action due at frame n, in config order. Within one
// addon the order is spawn, show, event, hide, detach, destroy.
func (s *schedule) run(n int) []error {
	var errs []error
	for _, a := range s.addons {
		if a.Spawn == n || (a.Spawn == 0 && n == 1) {
			if err := s.spawn(a); err != nil {
				errs = append(errs, &ScheduleError{Frame: n, Addon: a.Name, Action: "spawn", Err: err})
				continue
			}
		}

		obj, ok := s.live[a.Name]
		if !ok {
			continue
		}
		if a.Show == n {
			s.host.Show(obj, false, 0)
		}
		if a.EventEvery > 0 && n%a.EventEvery == 0 {
			s.host.ReceiveEvent(obj, clickEvent, int32(n), native.Null, native.Null)
		}
		if a.Hide == n {
			s.host.Hide(obj, true, 0)
		}
		if a.Detach == n {
			if err := s.svc.Untrack(obj, a.Name); err != nil {
				errs = append(errs, &ScheduleError{Frame: n, Addon: a.Name, Action: "detach", Err: err})
			} else {
				s.m.RecordDetach()
				s.log.Debug().Str("addon", a.Name).Int("frame", n).Msg("addon detached")
			}
		}
		if a.Destroy == n {
			if err := s.host.Destroy(obj); err != nil {
				errs = append(errs, &ScheduleError{Frame: n, Addon: a.Name, Action: "destroy", Err: err})
				continue
			}
			delete(s.live, a.Name)
			s.m.RecordDestroy()
			s.log.Debug().Str("addon", a.Name).Int("frame", n).Msg("addon destroyed")
		}
	}
	return errs
}

func (s *schedule) spawn(a config.AddonConfig) error {
	typ := a.Type
	if typ == "" {
		typ = simhost.BaseType
	}
	obj, err := s.host.Create(typ, a.Name)
	if err != nil {
		return err
	}
	s.host.Setup(obj, 0, native.Null)
	s.live[a.Name] = obj
	s.m.RecordSpawn()
	s.log.Debug().Str("addon", a.Name).Str("type", typ).Msg("addon created")
	return nil
}

// names returns the live addon names in config order.
func (s *schedule) names() []string {
	var out []string
	for _, a := range s.addons {
		if _, ok := s.live[a.Name]; ok {
			out = append(out, a.Name)
		}
	}
	return out
}
