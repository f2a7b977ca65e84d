package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return wrap(r.db.WithContext(ctx).Create(user).Error, "userRepo.Create", "user")
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, wrap(err, "userRepo.FindByID", "user")
	}
	return &user, nil
}

func (r *UserRepository) FindByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, wrap(err, "userRepo.FindByIDs", "user")
}

// ListExcept returns every user but userID, for the chat sidebar.
func (r *UserRepository) ListExcept(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("id <> ?", userID).
		Order("username ASC").
		Find(&users).Error
	return users, wrap(err, "userRepo.ListExcept", "user")
}
