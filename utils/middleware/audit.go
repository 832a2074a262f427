package middleware

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

// Handlers put before/after snapshots here for the audit entry
const (
	AuditOldValueKey = "audit_old_value"
	AuditNewValueKey = "audit_new_value"
)

// AdminAuditLog records successful admin actions. It must run after RequireAdmin.
func AdminAuditLog(db *gorm.DB, action, resource string) fiber.Handler {
	log := logging.With("audit")

	return func(c *fiber.Ctx) error {
		adminID, ok := GetUserID(c)
		if !ok {
			return c.Next()
		}

		var resourceID uint
		if id := c.Params("id"); id != "" {
			if parsedID, err := strconv.ParseUint(id, 10, 32); err == nil {
				resourceID = uint(parsedID)
			}
		}

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil || status >= fiber.StatusBadRequest {
			return err
		}

		entry := model.AdminAuditLog{
			AdminID:     adminID,
			Action:      action,
			Resource:    resource,
			ResourceID:  resourceID,
			OldValue:    snapshot(c.Locals(AuditOldValueKey)),
			NewValue:    snapshot(c.Locals(AuditNewValueKey)),
			IPAddress:   c.IP(),
			UserAgent:   c.Get("User-Agent"),
			Description: c.Method() + " " + c.Path(),
		}
		if len(entry.NewValue) == 0 && len(c.Body()) > 0 && json.Valid(c.Body()) {
			entry.NewValue = datatypes.JSON(append([]byte(nil), c.Body()...))
		}

		// The action already happened; a lost audit row is logged, not surfaced
		if dbErr := db.WithContext(c.UserContext()).Create(&entry).Error; dbErr != nil {
			log.Error().Err(dbErr).
				Uint("admin_id", adminID).
				Str("action", action).
				Uint("resource_id", resourceID).
				Msg("Failed to write admin audit log")
		}

		return nil
	}
}

func snapshot(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
