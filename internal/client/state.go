package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const (
	stateOrderID = "order_id"
	stateEmail   = "email"
)

// State is the client's persisted license identity.
type State struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// LoadState reads the JSON state file at path. A missing file yields empty state.
func LoadState(path string) (*State, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read client state: %w", err)
		}
	}
	return &State{v: v, path: path}, nil
}

func (s *State) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(stateOrderID)
}

func (s *State) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(stateEmail)
}

// Save replaces the persisted identity with the order and email from a
// verified token. An empty email clears the stored one.
func (s *State) Save(orderID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(stateOrderID, orderID)
	s.v.Set(stateEmail, email)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write client state: %w", err)
	}
	return nil
}
