package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/InsulaLabs/rfs/db/vstore"
	"github.com/InsulaLabs/rfs/vfs"
	"github.com/jellydator/ttlcache/v3"
)

/*
	The engine hosts filesystem volumes as its native value type. One
	apply mutex serializes every command: a handler runs to completion
	against the in-memory tree with no suspension points, which is what
	makes each command atomic without any locking inside the volume code.

	Live volumes sit in a TTL cache; an idle volume falls out of memory
	and reloads from the store on its next reference. Every successful
	mutation writes the serialized volume back through the store before
	the next command can observe it.
*/

var DefaultVolumeTTL = 5 * time.Minute

// Event describes one applied mutation, for subscribers.
type Event struct {
	Key     string `json:"key"`
	Command string `json:"command"`
	Path    string `json:"path"`
}

// EventReceiverIF gets every applied mutation. The receiver must not
// block; it is called on the command path.
type EventReceiverIF interface {
	Receive(ev Event)
}

type Config struct {
	Logger        *slog.Logger
	Store         vstore.VStore
	VolumeTTL     time.Duration
	Clock         func() time.Time
	EventReceiver EventReceiverIF
}

type Engine struct {
	mu         sync.Mutex
	logger     *slog.Logger
	store      vstore.VStore
	volumes    *ttlcache.Cache[string, *vfs.Volume]
	clock      func() time.Time
	eventRecvr EventReceiverIF
}

func New(config Config) (*Engine, error) {
	if config.VolumeTTL == 0 {
		config.VolumeTTL = DefaultVolumeTTL
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	volumes := ttlcache.New[string, *vfs.Volume](
		ttlcache.WithTTL[string, *vfs.Volume](config.VolumeTTL),
	)
	go volumes.Start()

	return &Engine{
		logger:     config.Logger.WithGroup("engine"),
		store:      config.Store,
		volumes:    volumes,
		clock:      config.Clock,
		eventRecvr: config.EventReceiver,
	}, nil
}

// SetEventReceiver attaches the mutation event sink. Must be called
// before the engine starts taking commands.
func (e *Engine) SetEventReceiver(r EventReceiverIF) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventRecvr = r
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumes.Stop()
	return e.store.Close()
}

func (e *Engine) nowMs() uint64 {
	return uint64(e.clock().UnixMilli())
}

// volumeFor returns the live volume at key, reloading it from the store
// when it fell out of memory. With create set, a missing key becomes a
// fresh volume with the next monotonic id; fresh reports that case so a
// failed create-write can discard it again and leave the key untouched.
// A stored value that fails validation is discarded, as if the key never
// existed.
func (e *Engine) volumeFor(key string, create bool) (vol *vfs.Volume, fresh bool, err error) {
	if item := e.volumes.Get(key); item != nil {
		return item.Value(), false, nil
	}

	raw, err := e.store.Load(key)
	if err == nil {
		vol, derr := vfs.Deserialize(raw)
		if derr != nil {
			e.logger.Error("discarding corrupt volume", "key", key, "error", derr)
			if serr := e.store.Delete(key); serr != nil {
				e.logger.Error("could not delete corrupt volume", "key", key, "error", serr)
			}
		} else {
			e.volumes.Set(key, vol, ttlcache.DefaultTTL)
			return vol, false, nil
		}
	} else {
		var notFound *vstore.ErrVolumeNotFound
		if !errors.As(err, &notFound) {
			return nil, false, err
		}
	}

	if !create {
		return nil, false, &ErrNoVolume{Key: key}
	}

	id, err := e.store.NextVolumeID()
	if err != nil {
		return nil, false, err
	}
	vol = vfs.NewVolume(id, e.nowMs())
	e.volumes.Set(key, vol, ttlcache.DefaultTTL)
	e.logger.Debug("created volume", "key", key, "id", id)
	return vol, true, nil
}

// discardFresh removes a volume that was auto-created for a write that
// then failed, so the failed command leaves no trace.
func (e *Engine) discardFresh(key string, fresh bool) {
	if fresh {
		e.volumes.Delete(key)
	}
}

// persist writes the serialized volume through to the store. A store
// failure does not roll back the applied command; it is logged and the
// next successful mutation retries the full write.
func (e *Engine) persist(key string, vol *vfs.Volume) {
	if err := e.store.Save(key, vfs.Serialize(vol)); err != nil {
		e.logger.Error("could not persist volume", "key", key, "error", err)
	}
}

func (e *Engine) emit(key, command, path string) {
	if e.eventRecvr == nil {
		return
	}
	e.eventRecvr.Receive(Event{Key: key, Command: command, Path: path})
}

// Drop releases the in-memory and stored forms of the volume at key.
// Returns whether anything existed.
func (e *Engine) drop(key string) (bool, error) {
	existed := e.volumes.Get(key) != nil
	e.volumes.Delete(key)
	if !existed {
		if _, err := e.store.Load(key); err != nil {
			var notFound *vstore.ErrVolumeNotFound
			if errors.As(err, &notFound) {
				return false, nil
			}
			return false, err
		}
		existed = true
	}
	if err := e.store.Delete(key); err != nil {
		return existed, err
	}
	return existed, nil
}
