package services

import (
	"context"
	"testing"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactService_Create(t *testing.T) {
	svc := NewContactService(newTestDB(t), quietLogger())
	ctx := context.Background()

	c, err := svc.Create(ctx, &CreateContactInput{Phone: " 919811112222@c.us ", Name: "Ravi", Tags: []string{"Gold", "gold", " ring "}})
	require.NoError(t, err)
	assert.Equal(t, "919811112222", c.Phone)
	assert.Equal(t, "prospect", c.CustomerType)
	assert.Equal(t, "en", c.Language)
	assert.Equal(t, models.ContactActive, c.Status)
	assert.Equal(t, []string{"gold", "ring"}, c.Tags)

	_, err = svc.Create(ctx, &CreateContactInput{Phone: "919811112222"})
	assert.ErrorIs(t, err, ErrValidation, "phone is unique")

	_, err = svc.Create(ctx, &CreateContactInput{Phone: ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, &CreateContactInput{Phone: "919800000000", CustomerType: "alien"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestContactService_ListFilters(t *testing.T) {
	db := newTestDB(t)
	svc := NewContactService(db, quietLogger())
	ctx := context.Background()

	createContact(t, db, "919800000001", "vip", models.ContactActive, "gold")
	createContact(t, db, "919800000002", "vip", models.ContactOptedOut, "gold")
	createContact(t, db, "919800000003", "customer", models.ContactActive)

	all, total, err := svc.List(ctx, ContactFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, "919800000003", all[0].Phone, "newest first")

	gold, total, err := svc.List(ctx, ContactFilter{Tag: "gold"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, gold, 2)

	active, total, err := svc.List(ctx, ContactFilter{Status: models.ContactActive, Tag: "gold"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, active, 1)
	assert.Equal(t, "919800000001", active[0].Phone)

	page, total, err := svc.List(ctx, ContactFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "919800000002", page[0].Phone)

	empty, _, err := svc.List(ctx, ContactFilter{Tag: "gold", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestContactService_TagsAndStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewContactService(db, quietLogger())
	ctx := context.Background()
	c := createContact(t, db, "919800000001", "customer", models.ContactActive, "old")

	updated, err := svc.UpdateTags(ctx, c.ID, []string{"VIP", "wedding", "vip"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "wedding"}, updated.Tags)

	stored, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "wedding"}, stored.Tags)

	out, err := svc.SetStatus(ctx, c.ID, models.ContactOptedOut)
	require.NoError(t, err)
	assert.Equal(t, models.ContactOptedOut, out.Status)

	_, err = svc.SetStatus(ctx, c.ID, "sleeping")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SetStatus(ctx, 999, models.ContactActive)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.UpdateTags(ctx, 999, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
