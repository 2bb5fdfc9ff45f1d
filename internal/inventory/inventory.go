// Package inventory loads devices from a YAML file and syncs them into the
// database, keyed by device name.
package inventory

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eNMS-automation/eNMS-sub001/internal/crypto"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

// Inventory is the root of an inventory file:
//
//	devices:
//	  - name: router-1
//	    host: 10.0.0.1
//	    username: admin
//	    password: secret
type Inventory struct {
	Devices []Device `yaml:"devices"`
}

type Device struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Protocol       string `yaml:"protocol"`
}

// Load parses and validates an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	seen := make(map[string]bool, len(inv.Devices))
	for i := range inv.Devices {
		d := &inv.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("device #%d: name is required", i+1)
		}
		if seen[d.Name] {
			return fmt.Errorf("device %q: duplicate name", d.Name)
		}
		seen[d.Name] = true
		if err := d.Normalize(); err != nil {
			return err
		}
	}
	return nil
}

// Normalize fills defaults (protocol ssh, port 22) and checks that the
// device can be connected to.
func (d *Device) Normalize() error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if d.Protocol == "" {
		d.Protocol = database.ProtocolSSH
	}
	switch d.Protocol {
	case database.ProtocolSSH:
		if d.Host == "" {
			return fmt.Errorf("device %q: host is required", d.Name)
		}
		if d.Username == "" {
			return fmt.Errorf("device %q: username is required", d.Name)
		}
		if d.Port == 0 {
			d.Port = 22
		}
		if d.Port < 1 || d.Port > 65535 {
			return fmt.Errorf("device %q: invalid port %d", d.Name, d.Port)
		}
	case database.ProtocolLocal:
	default:
		return fmt.Errorf("device %q: unknown protocol %q", d.Name, d.Protocol)
	}
	return nil
}

// Apply upserts every device, encrypting credentials on the way in. It
// returns the number of devices written.
func Apply(inv *Inventory, logger *zap.Logger) (int, error) {
	var errs []error
	n := 0
	for _, d := range inv.Devices {
		row, err := ToRow(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", d.Name, err))
			continue
		}
		if err := database.UpsertDevice(row); err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", d.Name, err))
			continue
		}
		logger.Debug("inventory device synced", zap.String("device", d.Name), zap.String("protocol", d.Protocol))
		n++
	}
	return n, errors.Join(errs...)
}

// ToRow converts d to a database row with encrypted credentials. An inline
// PrivateKey takes precedence over PrivateKeyFile.
func ToRow(d Device) (*database.Device, error) {
	password, err := crypto.Encrypt(d.Password)
	if err != nil {
		return nil, err
	}
	var key string
	if d.PrivateKey != "" {
		if key, err = crypto.Encrypt(d.PrivateKey); err != nil {
			return nil, err
		}
	} else if d.PrivateKeyFile != "" {
		pem, err := os.ReadFile(d.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		if key, err = crypto.Encrypt(string(pem)); err != nil {
			return nil, err
		}
	}
	return &database.Device{
		Name:       d.Name,
		Host:       d.Host,
		Port:       d.Port,
		Username:   d.Username,
		Password:   password,
		PrivateKey: key,
		Protocol:   d.Protocol,
	}, nil
}
