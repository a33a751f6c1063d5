// internal/room/registry.go
package room

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/auth"
	"github.com/cinematch/cinematch/internal/media"
	"github.com/cinematch/cinematch/internal/protocol"
	"github.com/cinematch/cinematch/internal/provider"
)

// Registry creates rooms, looks them up by name, and garbage-collects
// them when their last member leaves. It is the only component with
// global room visibility.
type Registry struct {
	providers      []provider.Provider
	matchThreshold int
	logger         *logrus.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry wires a registry over the configured catalog providers.
func NewRegistry(providers []provider.Provider, matchThreshold int, logger *logrus.Logger) *Registry {
	return &Registry{
		providers:      providers,
		matchThreshold: matchThreshold,
		logger:         logger,
		rooms:          make(map[string]*Room),
	}
}

// Create resolves the candidate media for the request and publishes a new
// room. Fails with ErrRoomExists for a duplicate name and ErrNoMedia when
// the resolved candidate set is empty.
//
// Media resolution can be slow, so it runs before the room is published;
// no room lock is held while providers are in flight. A concurrent create
// for the same name loses with ErrRoomExists at commit time.
func (reg *Registry) Create(ctx context.Context, req protocol.CreateRoom) (*Room, error) {
	name := strings.TrimSpace(req.RoomName)
	if name == "" {
		return nil, fmt.Errorf("room name must not be empty")
	}

	reg.mu.Lock()
	_, exists := reg.rooms[name]
	reg.mu.Unlock()
	if exists {
		return nil, ErrRoomExists
	}

	candidates, err := reg.resolveMedia(ctx, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoMedia
	}

	var passwordHash string
	if req.Password != "" {
		passwordHash, err = auth.HashRoomPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
	}

	rm := New(name, req.Sort, req.Options, reg.matchThreshold, candidates, reg.logger)
	rm.PasswordHash = passwordHash
	rm.OnEmpty = reg.remove

	reg.mu.Lock()
	if _, exists := reg.rooms[name]; exists {
		reg.mu.Unlock()
		return nil, ErrRoomExists
	}
	reg.rooms[name] = rm
	reg.mu.Unlock()

	reg.logger.WithFields(logrus.Fields{"room": name, "media": len(candidates), "sort": rm.Sort}).Info("room created")
	return rm, nil
}

// Get looks a room up for a join. Fails with ErrRoomNotFound,
// ErrAccessDenied on a missing/incorrect password, and
// ErrUserAlreadyJoined when the requesting display name is already an
// active member.
func (reg *Registry) Get(name, password, userName string) (*Room, error) {
	reg.mu.Lock()
	rm, ok := reg.rooms[name]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	if rm.PasswordHash != "" {
		okPassword, err := auth.VerifyRoomPassword(password, rm.PasswordHash)
		if err != nil {
			reg.logger.WithFields(logrus.Fields{"room": name, "error": err}).Error("room password check failed")
			return nil, ErrAccessDenied
		}
		if !okPassword {
			return nil, ErrAccessDenied
		}
	}

	if rm.HasMember(userName) {
		return nil, ErrUserAlreadyJoined
	}
	return rm, nil
}

// Count reports the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// remove drops an empty room, freeing its name for reuse. Triggered by
// the room's OnEmpty callback, never exposed as an external operation.
func (reg *Registry) remove(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[name]
	if !ok {
		return
	}
	// A member may have rejoined between the empty transition and this
	// callback. retire re-checks emptiness under the room lock and marks
	// the room dead in the same critical section, so a Join racing a
	// Get that returned this room now fails with ErrRoomNotFound instead
	// of landing in a phantom room.
	if !rm.retire() {
		return
	}
	delete(reg.rooms, name)
	reg.logger.WithField("room", name).Info("empty room removed")
}

// resolveMedia queries every provider and concatenates the results,
// deduplicating by media id.
func (reg *Registry) resolveMedia(ctx context.Context, filters []media.Filter) ([]media.Media, error) {
	var out []media.Media
	seen := make(map[string]bool)
	for _, p := range reg.providers {
		items, err := p.GetMedia(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		for _, m := range items {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out, nil
}
