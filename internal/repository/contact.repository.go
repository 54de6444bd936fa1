package repository

import (
	"context"
	"errors"

	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/pkg/pg"
)

var (
	// ErrContactNotFound is returned when a contact does not exist or
	// belongs to another user.
	ErrContactNotFound = errors.New("contact not found")
)

type ContactRepository struct {
	*pg.DB
}

func NewContactRepository(db *pg.DB) *ContactRepository {
	return &ContactRepository{
		db,
	}
}

func (r *ContactRepository) Create(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	entity := toContactEntity(contact)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toContactModel(entity), nil
}

// FindByIDs resolves contacts scoped to the owning user. IDs of other
// users' contacts are silently absent from the result.
func (r *ContactRepository) FindByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entities []*ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toContactModels(entities), nil
}

// FindByGroupIDs resolves the union of members across groups, scoped
// to the owning user.
func (r *ContactRepository) FindByGroupIDs(ctx context.Context, userID int64, groupIDs []int64) ([]*model.Contact, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var entities []*ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Model(&ContactEntity{}).
		Distinct("contacts.*").
		Joins("JOIN contact_group_members gm ON gm.contact_id = contacts.id").
		Joins("JOIN contact_groups g ON g.id = gm.group_id").
		Where("g.user_id = ? AND contacts.user_id = ? AND g.id IN ?", userID, userID, groupIDs).
		Order("contacts.id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toContactModels(entities), nil
}

func (r *ContactRepository) AddToGroup(ctx context.Context, groupID, contactID int64) error {
	member := &ContactGroupMemberEntity{GroupID: groupID, ContactID: contactID}
	return r.Write(ctx).WithContext(ctx).Create(member).Error
}

func (r *ContactRepository) CreateGroup(ctx context.Context, group *model.ContactGroup) (*model.ContactGroup, error) {
	entity := &ContactGroupEntity{
		ID:        group.ID,
		UserID:    group.UserID,
		Name:      group.Name,
		CreatedAt: group.CreatedAt,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return &model.ContactGroup{
		ID:        entity.ID,
		UserID:    entity.UserID,
		Name:      entity.Name,
		CreatedAt: entity.CreatedAt,
	}, nil
}
