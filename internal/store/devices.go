package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrDeviceExists = errors.New("device already registered")

func (r *Repository) CreateDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	var existing Device
	err := r.db.WithContext(ctx).Where("id = ?", deviceID).First(&existing).Error
	if err == nil {
		return nil, ErrDeviceExists
	}
	if !notFound(err) {
		return nil, err
	}
	d := &Device{ID: deviceID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Repository) ListDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	var devices []Device
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// ListDevicesByUserAndIDs returns the subset of ids owned by userID. Ids that
// are unknown or belong to someone else are omitted.
func (r *Repository) ListDevicesByUserAndIDs(ctx context.Context, userID uuid.UUID, ids []string) ([]Device, error) {
	if len(ids) == 0 {
		return []Device{}, nil
	}
	var devices []Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Order("id").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// SetDeviceHeight stores the preset last applied to a device. A device that
// userID does not own is left untouched.
func (r *Repository) SetDeviceHeight(ctx context.Context, userID uuid.UUID, deviceID, height string) error {
	return r.db.WithContext(ctx).
		Model(&Device{}).
		Where("user_id = ? AND id = ?", userID, deviceID).
		Update("current_height", height).Error
}
