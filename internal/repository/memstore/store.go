// Package memstore is an in-memory implementation of the repository
// interfaces. It backs storage.driver=memory and the service tests.
package memstore

import (
	"sort"
	"sync"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// Store holds all tables behind one mutex, so every repository method is
// atomic with respect to every other.
type Store struct {
	mu sync.Mutex

	accounts    map[int]*model.Account
	contacts    map[int]*model.Contact
	campaigns   map[int]*model.Campaign
	sends       map[int]*model.CampaignSend
	sendPairs   map[[2]int]int
	automations map[int]*model.Automation
	ledger      []model.LedgerEntry
	ledgerKeys  map[string]bool

	nextID map[string]int

	Campaigns   *CampaignRepo
	Sends       *SendRepo
	Contacts    *ContactRepo
	Accounts    *AccountRepo
	Automations *AutomationRepo
}

func New() *Store {
	s := &Store{
		accounts:    map[int]*model.Account{},
		contacts:    map[int]*model.Contact{},
		campaigns:   map[int]*model.Campaign{},
		sends:       map[int]*model.CampaignSend{},
		sendPairs:   map[[2]int]int{},
		automations: map[int]*model.Automation{},
		ledgerKeys:  map[string]bool{},
		nextID:      map[string]int{},
	}
	s.Campaigns = &CampaignRepo{s}
	s.Sends = &SendRepo{s}
	s.Contacts = &ContactRepo{s}
	s.Accounts = &AccountRepo{s}
	s.Automations = &AutomationRepo{s}
	return s
}

// id must be called with mu held.
func (s *Store) id(table string) int {
	s.nextID[table]++
	return s.nextID[table]
}

// ====================== Seeding ======================

// AddAccount stores a copy of a and assigns an id when a.ID is zero.
func (s *Store) AddAccount(a model.Account) *model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id("accounts")
	}
	s.accounts[a.ID] = &a
	return &a
}

func (s *Store) AddContact(c model.Contact) *model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id("contacts")
	}
	if c.Status == "" {
		c.Status = model.ContactActive
	}
	s.contacts[c.ID] = &c
	return &c
}

func (s *Store) AddAutomation(a model.Automation) *model.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id("automations")
	}
	s.automations[a.ID] = &a
	return &a
}

// ====================== Inspection ======================

// Ledger returns a copy of every ledger entry in insertion order.
func (s *Store) Ledger() []model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LedgerEntry(nil), s.ledger...)
}

// SendsForCampaign returns copies of the campaign's records ordered by id.
func (s *Store) SendsForCampaign(campaignID int) []model.CampaignSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignSend
	for _, send := range s.sends {
		if send.CampaignID == campaignID {
			out = append(out, *send)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Automation(id int) model.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.automations[id]
}

var (
	_ repository.CampaignRepositoryInterface     = (*CampaignRepo)(nil)
	_ repository.CampaignSendRepositoryInterface = (*SendRepo)(nil)
	_ repository.ContactRepositoryInterface      = (*ContactRepo)(nil)
	_ repository.AccountRepositoryInterface      = (*AccountRepo)(nil)
	_ repository.AutomationRepositoryInterface   = (*AutomationRepo)(nil)
)
