package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// Directory is an in-process user directory.
type Directory struct {
	mu        sync.RWMutex
	users     map[int64]domain.User
	meta      map[int64]map[string]string
	blacklist map[int64]map[int64]struct{}
	languages map[int64]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		users:     make(map[int64]domain.User),
		meta:      make(map[int64]map[string]string),
		blacklist: make(map[int64]map[int64]struct{}),
		languages: make(map[int64]string),
	}
}

// AddUser inserts or replaces a user.
func (d *Directory) AddUser(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.LanguageIDs = append([]int64(nil), u.LanguageIDs...)
	d.users[u.ID] = u
}

// SetMeta sets a metadata value for a user.
func (d *Directory) SetMeta(userID int64, key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.meta[userID]
	if !ok {
		m = make(map[string]string)
		d.meta[userID] = m
	}
	m[key] = value
}

// Blacklist records that the customer does not want the translator.
func (d *Directory) Blacklist(customerID, translatorID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.blacklist[customerID]
	if !ok {
		set = make(map[int64]struct{})
		d.blacklist[customerID] = set
	}
	set[translatorID] = struct{}{}
}

// AddLanguage registers a language name.
func (d *Directory) AddLanguage(id int64, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.languages[id] = name
}

func (d *Directory) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u.LanguageIDs = append([]int64(nil), u.LanguageIDs...)
	return &u, nil
}

// GetUserMeta returns "" for a key that was never set.
func (d *Directory) GetUserMeta(ctx context.Context, id int64, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.meta[id][key], nil
}

func (d *Directory) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			u.LanguageIDs = append([]int64(nil), u.LanguageIDs...)
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (d *Directory) BlacklistedTranslators(ctx context.Context, customerID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int64, 0, len(d.blacklist[customerID]))
	for id := range d.blacklist[customerID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FindTranslators returns active translators matching q, ordered by id.
// A nil Levels slice matches every level; an empty one matches none.
func (d *Directory) FindTranslators(ctx context.Context, q domain.TranslatorQuery) ([]domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []domain.User
	for _, u := range d.users {
		if !u.IsTranslator() || !u.Active {
			continue
		}
		if q.TranslatorType != "" && u.TranslatorType != q.TranslatorType {
			continue
		}
		if q.Levels != nil && !containsString(q.Levels, u.Level) {
			continue
		}
		if q.LanguageID != 0 && !u.SpeaksLanguage(q.LanguageID) {
			continue
		}
		if q.Gender != domain.GenderAny && u.Gender != q.Gender {
			continue
		}
		if containsInt64(q.ExcludeIDs, u.ID) {
			continue
		}
		u.LanguageIDs = append([]int64(nil), u.LanguageIDs...)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) LanguageName(ctx context.Context, id int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.languages[id]
	if !ok {
		return "", domain.NewValidationError("from_language_id", "unknown language")
	}
	return name, nil
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
