package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/sqlstore"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func TestSqlStoreSaleLifecycle(t *testing.T) {
	db := setupMySQL(t)
	ctx := utils.SetCorrelationIdInContext(context.Background(), "it-lifecycle")

	partner := models.Partner{Name: "Customer A"}
	if err := db.Create(&partner).Error; err != nil {
		t.Fatalf("create partner: %v", err)
	}
	product := models.Product{Name: "Rice", Sku: "RICE-1", Unit: "bag", ProductType: models.ProductTypeGoods}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}

	svc := sales.NewService(sqlstore.New(db), sales.WithLogger(logrus.New()))
	lot, err := svc.RecordProduction(ctx, &models.NewProductionBatch{
		ProductId:   product.ID,
		BatchNumber: "B-001",
		ProducedQty: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("RecordProduction: %v", err)
	}

	sale, err := svc.CreateSale(ctx, saleInput("INV-IT-1", partner.ID, product.ID, lot.ID, 30))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	assertRemaining(t, db, lot.ID, 70)
	if !sale.InvoiceSubtotal.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("subtotal: got %s want 300", sale.InvoiceSubtotal)
	}

	lines := saleInput("INV-IT-1", partner.ID, product.ID, lot.ID, 50).Lines
	if _, err := svc.UpdateSale(ctx, sale.ID, &models.SalesInvoicePatch{Lines: &lines}); err != nil {
		t.Fatalf("UpdateSale(50): %v", err)
	}
	assertRemaining(t, db, lot.ID, 50)

	lines = saleInput("INV-IT-1", partner.ID, product.ID, lot.ID, 200).Lines
	_, err = svc.UpdateSale(ctx, sale.ID, &models.SalesInvoicePatch{Lines: &lines})
	if !errors.Is(err, sales.ErrInsufficientStock) {
		t.Fatalf("UpdateSale(200): expected insufficient stock, got %v", err)
	}
	assertRemaining(t, db, lot.ID, 50)

	if _, err := svc.CreateSale(ctx, saleInput("INV-IT-1", partner.ID, product.ID, lot.ID, 1)); !errors.Is(err, sales.ErrDuplicateInvoiceNumber) {
		t.Fatalf("duplicate CreateSale: expected duplicate invoice number, got %v", err)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}
	assertRemaining(t, db, lot.ID, 100)

	var lineCount int64
	if err := db.Model(&models.SaleLine{}).Where("sales_invoice_id = ?", sale.ID).Count(&lineCount).Error; err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if lineCount != 0 {
		t.Fatalf("expected no sale lines after delete, got %d", lineCount)
	}

	var events []models.SaleEvent
	if err := db.Where("invoice_id = ?", sale.ID).Order("id ASC").Find(&events).Error; err != nil {
		t.Fatalf("load sale events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 outbox events (created, updated, deleted), got %d", len(events))
	}

	discrepancies, err := svc.AuditStock(ctx)
	if err != nil {
		t.Fatalf("AuditStock: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("expected no stock discrepancies, got %+v", discrepancies)
	}
}

func TestSqlStoreConcurrentSalesNeverOversell(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()

	partner := models.Partner{Name: "Customer B"}
	if err := db.Create(&partner).Error; err != nil {
		t.Fatalf("create partner: %v", err)
	}
	product := models.Product{Name: "Oil", Sku: "OIL-1", Unit: "tin", ProductType: models.ProductTypeGoods}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	lot := models.ProductionBatch{
		ProductId:      product.ID,
		BatchNumber:    "B-OIL",
		ProductionDate: time.Now().UTC(),
		ProducedQty:    decimal.NewFromInt(100),
		RemainingQty:   decimal.NewFromInt(100),
	}
	if err := db.Create(&lot).Error; err != nil {
		t.Fatalf("create lot: %v", err)
	}

	svc := sales.NewService(sqlstore.New(db), sales.WithLogger(logrus.New()))

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateSale(ctx, saleInput(fmt.Sprintf("INV-RACE-%d", i), partner.ID, product.ID, lot.ID, 40))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, sales.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 2 {
		t.Fatalf("expected exactly 2 sales of 40 from a lot of 100, got %d", succeeded)
	}
	assertRemaining(t, db, lot.ID, 20)
}

func TestSqlStoreReplayOnlyFailedOrDeadEvents(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	events := map[string]*models.SaleEvent{}
	for _, status := range []string{models.OutboxPublishStatusSent, models.OutboxPublishStatusProcessing, models.OutboxPublishStatusDead} {
		ev := &models.SaleEvent{
			InvoiceId:       1,
			InvoiceNumber:   "INV-R",
			Action:          models.SaleEventActionCreated,
			Payload:         []byte(`{}`),
			PublishStatus:   status,
			PublishAttempts: 20,
		}
		if err := db.Create(ev).Error; err != nil {
			t.Fatalf("seed %s event: %v", status, err)
		}
		events[status] = ev
	}

	now := time.Now().UTC()
	for _, status := range []string{models.OutboxPublishStatusSent, models.OutboxPublishStatusProcessing} {
		if err := store.ReplaySaleEvent(ctx, events[status].ID, now); !errors.Is(err, utils.ErrorStateConflict) {
			t.Fatalf("replay %s: got %v want state conflict", status, err)
		}
	}
	if err := store.ReplaySaleEvent(ctx, 999999, now); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("replay unknown: got %v want not found", err)
	}
	if err := store.ReplaySaleEvent(ctx, events[models.OutboxPublishStatusDead].ID, now); err != nil {
		t.Fatalf("replay dead: %v", err)
	}

	var sent models.SaleEvent
	if err := db.First(&sent, events[models.OutboxPublishStatusSent].ID).Error; err != nil {
		t.Fatalf("reload sent event: %v", err)
	}
	if sent.PublishStatus != models.OutboxPublishStatusSent || sent.PublishAttempts != 20 {
		t.Fatalf("sent event must be untouched, got %+v", sent)
	}
	var dead models.SaleEvent
	if err := db.First(&dead, events[models.OutboxPublishStatusDead].ID).Error; err != nil {
		t.Fatalf("reload dead event: %v", err)
	}
	if dead.PublishStatus != models.OutboxPublishStatusFailed || dead.PublishAttempts != 0 {
		t.Fatalf("dead event must be re-queued, got %+v", dead)
	}
}

func saleInput(number string, partnerId, productId, lotId int, qty int64) *models.NewSalesInvoice {
	return &models.NewSalesInvoice{
		InvoiceNumber: number,
		PartnerId:     partnerId,
		InvoiceDate:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		IsGst:         utils.NewFalse(),
		PaymentStatus: models.PaymentStatusPending,
		Lines: []models.NewSaleLine{{
			ProductId: productId,
			Rate:      decimal.NewFromInt(10),
			Allocations: []models.NewAllocation{{
				ProductionBatchId: &lotId,
				Quantity:          decimal.NewFromInt(qty),
			}},
		}},
	}
}

func assertRemaining(t *testing.T, db *gorm.DB, lotId int, want int64) {
	t.Helper()
	var lot models.ProductionBatch
	if err := db.First(&lot, lotId).Error; err != nil {
		t.Fatalf("load lot %d: %v", lotId, err)
	}
	if !lot.RemainingQty.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("lot %d remaining: got %s want %d", lotId, lot.RemainingQty, want)
	}
}

func setupMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "sales_ledger_test")

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	return db
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("sales-ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=sales_ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
