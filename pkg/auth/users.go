package auth

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/rs/zerolog"
)

// UsersFile is the document holding registered users
const UsersFile = "mc-users.json"

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ErrUserExists is returned when registering a taken username
var ErrUserExists = errors.New("username already exists")

// User is a registered account
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"passwordHash"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// UserStore caches mc-users.json and reloads it when the file changes on disk
type UserStore struct {
	mu     sync.RWMutex
	store  *jsonstore.Store
	users  []User
	logger zerolog.Logger

	watcher  *fsnotify.Watcher
	debounce time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
	onReload func(count int)
}

// NewUserStore loads the users document from store
func NewUserStore(store *jsonstore.Store, logger zerolog.Logger) *UserStore {
	us := &UserStore{
		store:    store,
		logger:   logger.With().Str("component", "users").Logger(),
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	us.Reload()
	return us
}

// Reload re-reads the users document
func (us *UserStore) Reload() int {
	var users []User
	_ = us.store.Read(UsersFile, []User{}, &users)

	us.mu.Lock()
	us.users = users
	us.mu.Unlock()

	return len(users)
}

// Find returns the user with username (case-insensitive)
func (us *UserStore) Find(username string) (User, bool) {
	us.mu.RLock()
	defer us.mu.RUnlock()

	for _, u := range us.users {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}
	return User{}, false
}

// List returns all users sorted by username
func (us *UserStore) List() []User {
	us.mu.RLock()
	out := make([]User, len(us.users))
	copy(out, us.users)
	us.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Add appends user and persists the document. Two usernames that map to the
// same per-user file key count as the same user.
func (us *UserStore) Add(user User) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	key := jsonstore.SanitizeID(user.Username)
	for _, u := range us.users {
		if jsonstore.SanitizeID(u.Username) == key {
			return ErrUserExists
		}
	}

	next := append(append([]User{}, us.users...), user)
	if err := us.store.Write(UsersFile, next); err != nil {
		return fmt.Errorf("failed to save users: %w", err)
	}
	us.users = next
	return nil
}

// TouchLogin records a successful login time for username
func (us *UserStore) TouchLogin(username string, at time.Time) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	next := append([]User{}, us.users...)
	found := false
	for i := range next {
		if strings.EqualFold(next[i].Username, username) {
			t := at
			next[i].LastLogin = &t
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	if err := us.store.Write(UsersFile, next); err != nil {
		return fmt.Errorf("failed to save users: %w", err)
	}
	us.users = next
	return nil
}

// Watch reloads the cache whenever mc-users.json is changed by another process.
// onReload, if set, is called with the new user count.
func (us *UserStore) Watch(onReload func(count int)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// the directory is watched because atomic writes replace the file inode
	if err := watcher.Add(us.store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", us.store.Dir(), err)
	}

	us.watcher = watcher
	us.onReload = onReload
	go us.eventLoop()

	us.logger.Info().Str("path", us.store.Path(UsersFile)).Msg("Watching users file")
	return nil
}

// Close stops the watcher
func (us *UserStore) Close() error {
	var err error
	us.stopOnce.Do(func() {
		close(us.done)

		us.timerMu.Lock()
		if us.timer != nil {
			us.timer.Stop()
		}
		us.timerMu.Unlock()

		if us.watcher != nil {
			err = us.watcher.Close()
		}
	})
	return err
}

func (us *UserStore) eventLoop() {
	for {
		select {
		case event, ok := <-us.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != UsersFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			us.scheduleReload()

		case err, ok := <-us.watcher.Errors:
			if !ok {
				return
			}
			us.logger.Error().Err(err).Msg("Users watcher error")

		case <-us.done:
			return
		}
	}
}

func (us *UserStore) scheduleReload() {
	us.timerMu.Lock()
	defer us.timerMu.Unlock()

	if us.timer != nil {
		us.timer.Stop()
	}
	us.timer = time.AfterFunc(us.debounce, func() {
		select {
		case <-us.done:
			return
		default:
		}
		count := us.Reload()
		us.logger.Info().Int("users", count).Msg("Users file reloaded")
		if us.onReload != nil {
			us.onReload(count)
		}
	})
}
