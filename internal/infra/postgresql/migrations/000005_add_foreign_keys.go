package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addForeignKeys() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_foreign_keys",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE campaign_steps ADD CONSTRAINT fk_steps_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns (id) ON DELETE CASCADE`,
				`ALTER TABLE recipients ADD CONSTRAINT fk_recipients_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns (id) ON DELETE CASCADE`,
				`ALTER TABLE deliveries ADD CONSTRAINT fk_deliveries_recipient FOREIGN KEY (recipient_id) REFERENCES recipients (id) ON DELETE CASCADE`,
				`ALTER TABLE deliveries ADD CONSTRAINT fk_deliveries_step FOREIGN KEY (step_id) REFERENCES campaign_steps (id) ON DELETE CASCADE`,
				`ALTER TABLE responses ADD CONSTRAINT fk_responses_recipient FOREIGN KEY (recipient_id) REFERENCES recipients (id) ON DELETE CASCADE`,
				`ALTER TABLE responses ADD CONSTRAINT fk_responses_delivery FOREIGN KEY (delivery_id) REFERENCES deliveries (id) ON DELETE SET NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE responses DROP CONSTRAINT IF EXISTS fk_responses_delivery`,
				`ALTER TABLE responses DROP CONSTRAINT IF EXISTS fk_responses_recipient`,
				`ALTER TABLE deliveries DROP CONSTRAINT IF EXISTS fk_deliveries_step`,
				`ALTER TABLE deliveries DROP CONSTRAINT IF EXISTS fk_deliveries_recipient`,
				`ALTER TABLE recipients DROP CONSTRAINT IF EXISTS fk_recipients_campaign`,
				`ALTER TABLE campaign_steps DROP CONSTRAINT IF EXISTS fk_steps_campaign`,
			})
		},
	}
}
