package cloud

import (
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/model"
)

// Identity is this installation's stable machine identity. Every pushed
// session carries the id; pull uses it to skip sessions the machine already
// owns.
type Identity struct {
	ID   uuid.UUID
	Name string
}

// LoadIdentity returns the persisted machine identity, creating and saving
// one on first use. The id prefers the hardware machine id (hashed per-app
// by machineid) so reinstalls keep their identity; a random UUID is the
// fallback when the platform provides none.
func LoadIdentity(cfg *config.Config) (*Identity, error) {
	if cfg.MachineID != "" {
		id, err := uuid.Parse(cfg.MachineID)
		if err != nil {
			return nil, fmt.Errorf("parsing configured machine id: %w", err)
		}
		return &Identity{ID: id, Name: machineName(cfg)}, nil
	}

	var id uuid.UUID
	if raw, err := machineid.ProtectedID("lore"); err == nil && raw != "" {
		id = model.DeriveUUID(raw)
	} else {
		id = uuid.New()
	}

	name := machineName(cfg)
	if _, err := config.Update(func(c *config.Config) {
		c.MachineID = id.String()
		if c.MachineName == "" {
			c.MachineName = name
		}
	}); err != nil {
		return nil, fmt.Errorf("persisting machine identity: %w", err)
	}
	return &Identity{ID: id, Name: name}, nil
}

func machineName(cfg *config.Config) string {
	if cfg.MachineName != "" {
		return cfg.MachineName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unnamed"
}
