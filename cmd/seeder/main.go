// cmd/seeder/main.go
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/app"
	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// demoTenantID is the same on every run.
var demoTenantID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("wacampaign-demo-tenant")).String()

var demoContacts = []model.Contact{
	{Phone: "+254700000001", FirstName: "Amina", LastName: "Otieno", Location: "Nairobi", PreferredProduct: "Sneakers"},
	{Phone: "+254700000002", FirstName: "Brian", LastName: "Kamau", Location: "Mombasa", PreferredProduct: "Backpacks"},
	{Phone: "+254700000003", FirstName: "Chao", LastName: "Wanjiru", Location: "Kisumu", PreferredProduct: "Watches"},
	{Phone: "+254700000004", FirstName: "Dalia", Location: "Nakuru"},
	{Phone: "+254700000005", FirstName: "Eli", LastName: "Mwangi", PreferredProduct: "Sneakers"},
}

func main() {
	cfg := config.MustLoad()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}
	logger.Info("schema applied")

	tenants := &repository.TenantRepository{DB: conn}
	accounts := &repository.AccountRepository{DB: conn}
	templates := &repository.TemplateRepository{DB: conn}
	contacts := &repository.ContactRepository{DB: conn}

	tenant := &model.Tenant{ID: demoTenantID, Name: "Demo Shop", Active: true, SendingEnabled: true}
	if err := tenants.Create(ctx, tenant); err != nil {
		logger.Fatal("seed tenant", zap.Error(err))
	}

	account, err := accounts.GetForTenant(ctx, tenant.ID)
	if appErrors.KindOf(err) == appErrors.KindNotFound {
		account = &model.WhatsAppAccount{
			TenantID:      tenant.ID,
			WABAID:        "demo-waba",
			PhoneNumberID: "demo-phone-number",
			AccessToken:   "demo-token",
			Status:        model.AccountConnected,
			Environment:   model.EnvironmentSandbox,
			QualityRating: model.QualityGreen,
		}
		err = accounts.Create(ctx, account)
	}
	if err != nil {
		logger.Fatal("seed account", zap.Error(err))
	}

	tmpl := &model.Template{
		TenantID:      tenant.ID,
		Name:          "spring_promo",
		Language:      "en",
		Category:      model.CategoryMarketing,
		Status:        model.TemplateApproved,
		Body:          "Hi {{1}}, new {{2}} just landed in {{3}}!",
		VariableCount: 3,
	}
	if err := templates.Create(ctx, tmpl); err != nil {
		logger.Fatal("seed template", zap.Error(err))
	}

	for i := range demoContacts {
		c := demoContacts[i]
		c.TenantID = tenant.ID
		if err := contacts.Create(ctx, &c); err != nil {
			logger.Fatal("seed contact", zap.String("phone", c.Phone), zap.Error(err))
		}
	}

	logger.Info("database seeding completed",
		zap.String("tenant_id", tenant.ID),
		zap.Int("account_id", account.ID),
		zap.String("template", tmpl.Name),
		zap.Int("contacts", len(demoContacts)),
	)
}
