// Package identity persists the stable player identity across reloads. Two
// redundant local stores back it: a sqlite key-value table and a cookie-style
// flat file, so the identity survives either one being cleared.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Identity is created once per device on first name entry and reused for the
// device's lifetime across rooms.
type Identity struct {
	PlayerID string
	Name     string
}

// New mints a fresh identity for a display name.
func New(name string) Identity {
	return Identity{PlayerID: uuid.NewString(), Name: strings.TrimSpace(name)}
}

// Record is one persisted key-value pair.
type Record struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

const (
	keyPlayerID   = "playerId"
	keyPlayerName = "playerName"

	cookieFile = "cookies"
	dbFile     = "client.db"

	cookieMaxAge = 7 * 24 * time.Hour
)

type Store struct {
	db         *gorm.DB
	cookiePath string
	log        *zap.Logger
}

// Open prepares both stores under dataDir, creating it if needed.
func Open(dataDir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, dbFile)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate identity db: %w", err)
	}
	return &Store{
		db:         db,
		cookiePath: filepath.Join(dataDir, cookieFile),
		log:        log.Named("identity"),
	}, nil
}

// Load recovers the persisted identity, trying the durable store first and
// falling back to the cookie file. A hit in only one store re-heals the other.
func (s *Store) Load() (Identity, bool) {
	id, ok := s.loadDB()
	if !ok {
		id, ok = s.loadCookie()
		if ok {
			s.log.Debug("identity recovered from cookie file, healing db")
			if err := s.saveDB(id); err != nil {
				s.log.Warn("heal identity db", zap.Error(err))
			}
		}
	}
	return id, ok
}

// Save writes the identity to both stores.
func (s *Store) Save(id Identity) error {
	if err := s.saveDB(id); err != nil {
		return err
	}
	return s.saveCookie(id)
}

func (s *Store) loadDB() (Identity, bool) {
	var recs []Record
	if err := s.db.Find(&recs, "key IN ?", []string{keyPlayerID, keyPlayerName}).Error; err != nil {
		s.log.Warn("read identity db", zap.Error(err))
		return Identity{}, false
	}
	var id Identity
	for _, r := range recs {
		switch r.Key {
		case keyPlayerID:
			id.PlayerID = r.Value
		case keyPlayerName:
			id.Name = r.Value
		}
	}
	return id, id.PlayerID != ""
}

func (s *Store) saveDB(id Identity) error {
	recs := []Record{
		{Key: keyPlayerID, Value: id.PlayerID, UpdatedAt: time.Now()},
		{Key: keyPlayerName, Value: id.Name, UpdatedAt: time.Now()},
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&recs).Error
}

// The cookie file holds "key=value" lines plus an "expires" line with a unix
// timestamp, mirroring the max-age cookie the browser client set.
func (s *Store) loadCookie() (Identity, bool) {
	data, err := os.ReadFile(s.cookiePath)
	if err != nil {
		return Identity{}, false
	}
	var id Identity
	var expires int64
	for _, line := range strings.Split(string(data), "\n") {
		k, v, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch k {
		case keyPlayerID:
			id.PlayerID = v
		case keyPlayerName:
			id.Name = v
		case "expires":
			expires, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if id.PlayerID == "" {
		return Identity{}, false
	}
	if expires != 0 && time.Now().Unix() > expires {
		return Identity{}, false
	}
	return id, true
}

func (s *Store) saveCookie(id Identity) error {
	expires := time.Now().Add(cookieMaxAge).Unix()
	content := fmt.Sprintf("%s=%s\n%s=%s\nexpires=%d\n",
		keyPlayerID, id.PlayerID, keyPlayerName, id.Name, expires)
	return os.WriteFile(s.cookiePath, []byte(content), 0o600)
}
