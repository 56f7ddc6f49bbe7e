// Package todo provides the in-memory to-do store backing the MCP tool
// surface. Categories hold ordered items; items may nest as subtasks
// and carry a short numeric ID (#42) alongside their UUID.
package todo

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority of a to-do item.
type Priority string

const (
	PriorityNone   Priority = "NONE"
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// DefaultCategoryColor is used when a category is created without one.
const DefaultCategoryColor = "#3B82F6"

var (
	ErrCategoryNotFound = errors.New("todo: category not found")
	ErrItemNotFound     = errors.New("todo: item not found")
)

// Category groups to-do items.
type Category struct {
	ID        string
	Name      string
	Color     string
	SortOrder int
}

// Item is a single to-do entry. ShortID is a small per-store counter
// for human-friendly references like #42.
type Item struct {
	ID          string
	ShortID     int
	Title       string
	Description string
	Completed   bool
	Priority    Priority
	DueDate     *time.Time
	CategoryID  string
	ParentID    string
	Depth       int
	SortOrder   int
}

// Store is an in-memory, concurrency-safe to-do store.
type Store struct {
	mu          sync.RWMutex
	categories  map[string]*Category
	items       map[string]*Item
	byShortID   map[int]string
	nextShortID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		categories:  make(map[string]*Category),
		items:       make(map[string]*Item),
		byShortID:   make(map[int]string),
		nextShortID: 1,
	}
}

// CreateCategory adds a category at the end of the ordering. An empty
// color takes DefaultCategoryColor.
func (s *Store) CreateCategory(name, color string) *Category {
	if color == "" {
		color = DefaultCategoryColor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxOrder := 0
	for _, c := range s.categories {
		if c.SortOrder > maxOrder {
			maxOrder = c.SortOrder
		}
	}

	c := &Category{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		SortOrder: maxOrder + 1,
	}
	s.categories[c.ID] = c

	out := *c
	return &out
}

// Categories returns all categories ordered by sort order.
func (s *Store) Categories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// CategoryName resolves a category ID to its name, or "".
func (s *Store) CategoryName(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.categories[id]; ok {
		return c.Name
	}
	return ""
}

// CountItems counts the items in a category. With activeOnly set,
// completed items are excluded.
func (s *Store) CountItems(categoryID string, activeOnly bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, it := range s.items {
		if it.CategoryID != categoryID {
			continue
		}
		if activeOnly && it.Completed {
			continue
		}
		n++
	}
	return n
}

// CreateItemParams are the inputs to CreateItem. Zero priority means
// PriorityNone.
type CreateItemParams struct {
	Title       string
	CategoryID  string
	Description string
	Priority    Priority
	DueDate     *time.Time
	ParentID    string
}

// CreateItem appends a new item to its category. A parent reference
// makes it a subtask one level below the parent.
func (s *Store) CreateItem(p CreateItemParams) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[p.CategoryID]; !ok {
		return nil, ErrCategoryNotFound
	}

	depth := 0
	if p.ParentID != "" {
		parent, ok := s.items[p.ParentID]
		if !ok {
			return nil, ErrItemNotFound
		}
		depth = parent.Depth + 1
	}

	priority := p.Priority
	if priority == "" {
		priority = PriorityNone
	}

	maxOrder := 0
	for _, it := range s.items {
		if it.CategoryID == p.CategoryID && it.SortOrder > maxOrder {
			maxOrder = it.SortOrder
		}
	}

	it := &Item{
		ID:          uuid.NewString(),
		ShortID:     s.nextShortID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    priority,
		DueDate:     p.DueDate,
		CategoryID:  p.CategoryID,
		ParentID:    p.ParentID,
		Depth:       depth,
		SortOrder:   maxOrder + 1,
	}
	s.nextShortID++
	s.items[it.ID] = it
	s.byShortID[it.ShortID] = it.ID

	out := *it
	return &out, nil
}

// Items lists a category's items in sort order. Completed items are
// omitted unless includeCompleted is set.
func (s *Store) Items(categoryID string, includeCompleted bool) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Item
	for _, it := range s.items {
		if it.CategoryID != categoryID {
			continue
		}
		if !includeCompleted && it.Completed {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Get resolves an item by short ID reference ("#42") or UUID.
func (s *Store) Get(identifier string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.lookup(identifier)
	if err != nil {
		return nil, err
	}
	out := *it
	return &out, nil
}

// Subtasks lists an item's direct subtasks in sort order.
func (s *Store) Subtasks(itemID string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Item
	for _, it := range s.items {
		if it.ParentID == itemID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// UpdateItemParams selects the fields Update changes. Nil pointers
// leave a field untouched; ClearDueDate removes the due date.
type UpdateItemParams struct {
	Title        *string
	Description  *string
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
}

// Update modifies an item in place.
func (s *Store) Update(identifier string, p UpdateItemParams) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.lookup(identifier)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Priority != nil {
		it.Priority = *p.Priority
	}
	if p.ClearDueDate {
		it.DueDate = nil
	} else if p.DueDate != nil {
		it.DueDate = p.DueDate
	}

	out := *it
	return &out, nil
}

// SetCompleted marks an item complete or incomplete.
func (s *Store) SetCompleted(identifier string, completed bool) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.lookup(identifier)
	if err != nil {
		return nil, err
	}
	it.Completed = completed

	out := *it
	return &out, nil
}

// Delete removes an item and its subtasks.
func (s *Store) Delete(identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.lookup(identifier)
	if err != nil {
		return err
	}

	var remove func(id string)
	remove = func(id string) {
		for _, child := range s.items {
			if child.ParentID == id {
				remove(child.ID)
			}
		}
		if victim, ok := s.items[id]; ok {
			delete(s.byShortID, victim.ShortID)
			delete(s.items, id)
		}
	}
	remove(it.ID)
	return nil
}

// Search finds items whose title or description contains the query,
// case-insensitively, up to limit results.
func (s *Store) Search(query string, limit int) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []Item
	for _, it := range s.items {
		if strings.Contains(strings.ToLower(it.Title), q) ||
			strings.Contains(strings.ToLower(it.Description), q) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortID < out[j].ShortID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary is a snapshot of today's workload.
type Summary struct {
	TotalActive  int
	DueToday     []Item
	HighPriority []Item
	Categories   []CategoryActivity
}

// CategoryActivity pairs a category name with its active item count.
type CategoryActivity struct {
	Name        string
	ActiveItems int
}

// DailySummary computes the summary for the day containing now.
func (s *Store) DailySummary(now time.Time) Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var sum Summary
	activeByCategory := make(map[string]int)
	for _, it := range s.items {
		if it.Completed {
			continue
		}
		sum.TotalActive++
		activeByCategory[it.CategoryID]++

		if it.DueDate != nil && !it.DueDate.Before(dayStart) && it.DueDate.Before(dayEnd) {
			sum.DueToday = append(sum.DueToday, *it)
		}
		if it.Priority == PriorityHigh {
			sum.HighPriority = append(sum.HighPriority, *it)
		}
	}
	sort.Slice(sum.DueToday, func(i, j int) bool { return sum.DueToday[i].ShortID < sum.DueToday[j].ShortID })
	sort.Slice(sum.HighPriority, func(i, j int) bool { return sum.HighPriority[i].ShortID < sum.HighPriority[j].ShortID })

	cats := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		cats = append(cats, *c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].SortOrder < cats[j].SortOrder })
	for _, c := range cats {
		sum.Categories = append(sum.Categories, CategoryActivity{Name: c.Name, ActiveItems: activeByCategory[c.ID]})
	}

	return sum
}

// lookup resolves "#42" or a UUID to the live item. Caller holds a
// lock.
func (s *Store) lookup(identifier string) (*Item, error) {
	if ref, ok := strings.CutPrefix(identifier, "#"); ok {
		shortID, err := strconv.Atoi(ref)
		if err != nil {
			return nil, ErrItemNotFound
		}
		id, ok := s.byShortID[shortID]
		if !ok {
			return nil, ErrItemNotFound
		}
		return s.items[id], nil
	}

	it, ok := s.items[identifier]
	if !ok {
		return nil, ErrItemNotFound
	}
	return it, nil
}
