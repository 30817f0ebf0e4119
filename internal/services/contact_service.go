package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"
	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var contactStatuses = map[string]bool{
	models.ContactActive:   true,
	models.ContactInactive: true,
	models.ContactBlocked:  true,
	models.ContactOptedOut: true,
}

var customerTypes = map[string]bool{
	"prospect":  true,
	"customer":  true,
	"vip":       true,
	"returning": true,
}

// ContactService manages contacts outside the inbound path.
type ContactService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewContactService(db *gorm.DB, logger *logrus.Logger) *ContactService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ContactService{db: db, logger: logger}
}

// CreateContactInput describes a contact imported by an operator.
type CreateContactInput struct {
	Phone        string   `json:"phone" binding:"required"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	CustomerType string   `json:"customer_type"`
	Language     string   `json:"language"`
	Tags         []string `json:"tags"`
	TotalSpent   float64  `json:"total_spent"`
}

func (s *ContactService) Create(ctx context.Context, in *CreateContactInput) (*models.Contact, error) {
	phone := utils.NormalizePhone(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrValidation)
	}
	customerType := in.CustomerType
	if customerType == "" {
		customerType = "prospect"
	}
	if !customerTypes[customerType] {
		return nil, fmt.Errorf("%w: unknown customer_type %q", ErrValidation, customerType)
	}
	language := in.Language
	if language == "" {
		language = "en"
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Contact{}).Where("phone = ?", phone).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check contact phone: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: contact %s already exists", ErrValidation, phone)
	}

	contact := &models.Contact{
		Phone:        phone,
		Name:         in.Name,
		Email:        in.Email,
		Status:       models.ContactActive,
		CustomerType: customerType,
		Language:     language,
		Tags:         normalizeTags(in.Tags),
		TotalSpent:   in.TotalSpent,
	}
	if err := s.db.WithContext(ctx).Create(contact).Error; err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

func (s *ContactService) Get(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: contact not found", ErrNotFound)
		}
		return nil, fmt.Errorf("load contact: %w", err)
	}
	return &contact, nil
}

// ContactFilter narrows List.
type ContactFilter struct {
	Status string
	Tag    string
	Limit  int
	Offset int
}

// List pages contacts, newest first. The tag filter is applied in memory.
func (s *ContactService) List(ctx context.Context, f ContactFilter) ([]models.Contact, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.Contact{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Tag != "" {
		var all []models.Contact
		if err := q.Order("id DESC").Find(&all).Error; err != nil {
			return nil, 0, fmt.Errorf("list contacts: %w", err)
		}
		matched := make([]models.Contact, 0, len(all))
		for _, c := range all {
			if c.HasTags([]string{f.Tag}) {
				matched = append(matched, c)
			}
		}
		total := int64(len(matched))
		if f.Offset >= len(matched) {
			return []models.Contact{}, total, nil
		}
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		return matched[f.Offset:end], total, nil
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}
	var contacts []models.Contact
	if err := q.Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&contacts).Error; err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, total, nil
}

// UpdateTags replaces the contact's tag set.
func (s *ContactService) UpdateTags(ctx context.Context, id uint, tags []string) (*models.Contact, error) {
	contact, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	contact.Tags = normalizeTags(tags)
	if err := s.db.WithContext(ctx).Model(contact).Select("tags").Updates(&models.Contact{Tags: contact.Tags}).Error; err != nil {
		return nil, fmt.Errorf("update contact tags: %w", err)
	}
	return contact, nil
}

// SetStatus transitions a contact; opted_out contacts never receive campaigns.
func (s *ContactService) SetStatus(ctx context.Context, id uint, status string) (*models.Contact, error) {
	if !contactStatuses[status] {
		return nil, fmt.Errorf("%w: unknown contact status %q", ErrValidation, status)
	}
	contact, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(contact).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update contact status: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"contact_id": id, "from": contact.Status, "to": status}).Info("contact status changed")
	contact.Status = status
	return contact, nil
}

// normalizeTags lowercases and dedupes tags, sorted.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
