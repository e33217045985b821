package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/email"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/services"
)

// Task types processed by the background workers.
const (
	TypeStageAdvance      = "status:advance"
	TypeNotificationStore = "notification:store"
	TypeEmailDelivery     = "email:deliver"
	TypeImageProcess      = "image:process"
	TypePhantomCleanup    = "user:phantom:cleanup"
	TypeInvoiceOverdue    = "billing:invoice:check_overdue"
	TypeRentDueCheck      = "billing:rent:due_check"
	TypeInvitationExpire  = "invitation:expire"
	TypeLeaseExpire       = "lease:expire"
)

// --- Task Client (Enqueuing tasks) ---

// Client enqueues effect tasks. It implements services.IEffectsQueue: every
// mutation's secondary effects go through here instead of running inline, and
// the deterministic task ID makes a re-enqueued effect a no-op.
type Client struct {
	client *asynq.Client
}

// NewClient creates a task client over the shared redis connection.
func NewClient(rdb *redis.Client) *Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return &Client{client: asynq.NewClient(clientOpt)}
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}

// StageAdvancePayload carries one stage event to the reconciler worker.
type StageAdvancePayload struct {
	PropertyID  primitive.ObjectID `json:"property_id"`
	Renter      models.RenterRef   `json:"renter"`
	Event       models.StageEvent  `json:"event"`
	Invitation  primitive.ObjectID `json:"invitation_id,omitempty"`
	Application primitive.ObjectID `json:"application_id,omitempty"`
	Lease       primitive.ObjectID `json:"lease_id,omitempty"`
}

// EnqueueStageAdvance queues a stage event on the critical queue. The dedup
// key becomes the asynq task ID so the same event cannot be applied twice
// within the retention window.
func (c *Client) EnqueueStageAdvance(ctx context.Context, propertyID primitive.ObjectID, ref models.RenterRef, event models.StageEvent, refs models.StageRefs, dedupKey string) error {
	payload, err := json.Marshal(StageAdvancePayload{
		PropertyID:  propertyID,
		Renter:      ref,
		Event:       event,
		Invitation:  refs.InvitationID,
		Application: refs.ApplicationID,
		Lease:       refs.LeaseID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stage advance payload: %w", err)
	}
	task := asynq.NewTask(TypeStageAdvance, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(dedupKey),
		asynq.Queue("critical"),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Effect already queued or applied; the dedup key did its job.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue stage advance: %w", err)
	}
	return nil
}

// NotificationPayload wraps a notification for the worker.
type NotificationPayload struct {
	Notification models.Notification `json:"notification"`
}

// EnqueueNotification queues an in-app notification on the default queue.
func (c *Client) EnqueueNotification(ctx context.Context, n *models.Notification, dedupKey string) error {
	payload, err := json.Marshal(NotificationPayload{Notification: *n})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	task := asynq.NewTask(TypeNotificationStore, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(dedupKey),
		asynq.Queue("default"),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// EmailTaskPayload carries one templated email to the delivery worker.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// EnqueueEmail queues an email delivery on the default queue.
func (c *Client) EnqueueEmail(ctx context.Context, to, templateID string, data map[string]interface{}) error {
	payload, err := json.Marshal(EmailTaskPayload{To: to, TemplateID: templateID, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}
	task := asynq.NewTask(TypeEmailDelivery, payload)
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("failed to enqueue email delivery: %w", err)
	}
	return nil
}

// ImageTaskPayload identifies an uploaded property photo to normalize.
type ImageTaskPayload struct {
	S3Key      string             `json:"s3_key"`
	PropertyID primitive.ObjectID `json:"property_id"`
	LandlordID primitive.ObjectID `json:"landlord_id"`
}

// EnqueueImageProcess queues a photo normalization on the images queue.
func (c *Client) EnqueueImageProcess(ctx context.Context, s3Key string, propertyID, landlordID primitive.ObjectID) error {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, PropertyID: propertyID, LandlordID: landlordID})
	if err != nil {
		return fmt.Errorf("failed to marshal image payload: %w", err)
	}
	task := asynq.NewTask(TypeImageProcess, payload)
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue("images"), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("failed to enqueue image processing: %w", err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	statusService        services.IRenterStatusService
	notificationService  services.INotificationService
	userService          services.IUserService
	propertyService      services.IPropertyService
	invitationService    services.IInvitationService
	leaseService         services.ILeaseService
	paymentService       services.IPaymentService
	invoiceService       services.IInvoiceService
	configService        services.IConfigService
	emailTemplateService services.IEmailTemplateService
	s3Client             *s3.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	statusService services.IRenterStatusService,
	notificationService services.INotificationService,
	userService services.IUserService,
	propertyService services.IPropertyService,
	invitationService services.IInvitationService,
	leaseService services.ILeaseService,
	paymentService services.IPaymentService,
	invoiceService services.IInvoiceService,
	configService services.IConfigService,
	emailTemplateService services.IEmailTemplateService,
	s3Client *s3.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		statusService:        statusService,
		notificationService:  notificationService,
		userService:          userService,
		propertyService:      propertyService,
		invitationService:    invitationService,
		leaseService:         leaseService,
		paymentService:       paymentService,
		invoiceService:       invoiceService,
		configService:        configService,
		emailTemplateService: emailTemplateService,
		s3Client:             s3Client,
	}
}

// SetupServer configures and runs an Asynq server instance.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeStageAdvance, processor.HandleStageAdvanceTask)
		mux.HandleFunc(TypeNotificationStore, processor.HandleNotificationStoreTask)
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		mux.HandleFunc(TypePhantomCleanup, processor.HandlePhantomCleanupTask)
		mux.HandleFunc(TypeInvoiceOverdue, processor.HandleInvoiceOverdueTask)
		mux.HandleFunc(TypeRentDueCheck, processor.HandleRentDueCheckTask)
		mux.HandleFunc(TypeInvitationExpire, processor.HandleInvitationExpireTask)
		mux.HandleFunc(TypeLeaseExpire, processor.HandleLeaseExpireTask)
		log.Println("Registered background task handlers.")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		log.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil
	}

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	return srv
}

// RunScheduler registers the periodic sweeps and blocks running them.
func RunScheduler(rdb *redis.Client) error {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		&asynq.SchedulerOpts{},
	)

	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{"@every 1h", asynq.NewTask(TypeInvitationExpire, nil, asynq.Queue("low"))},
		{"@every 1h", asynq.NewTask(TypeLeaseExpire, nil, asynq.Queue("low"))},
		{"@every 6h", asynq.NewTask(TypeInvoiceOverdue, nil, asynq.Queue("low"))},
		{"@every 12h", asynq.NewTask(TypeRentDueCheck, nil, asynq.Queue("low"))},
		{"@every 24h", asynq.NewTask(TypePhantomCleanup, nil, asynq.Queue("low"))},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.spec, e.task); err != nil {
			return fmt.Errorf("failed to register scheduled task %s: %w", e.task.Type(), err)
		}
	}

	return scheduler.Run()
}

// --- Task Handlers ---

// HandleStageAdvanceTask applies one stage event through the reconciler.
// A rebuild holding the property lock defers the task to asynq's retry
// backoff rather than dropping the event.
func (p *TaskProcessor) HandleStageAdvanceTask(ctx context.Context, t *asynq.Task) error {
	var payload StageAdvancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal stage advance payload: %v: %w", err, asynq.SkipRetry)
	}

	refs := models.StageRefs{
		InvitationID:  payload.Invitation,
		ApplicationID: payload.Application,
		LeaseID:       payload.Lease,
	}
	_, err := p.statusService.Advance(ctx, payload.PropertyID, payload.Renter, payload.Event, refs)
	if err != nil {
		if errors.Is(err, services.ErrRebuildInProgress) {
			log.Printf("Stage advance for property %s deferred: rebuild in progress", payload.PropertyID.Hex())
			return err
		}
		log.Printf("Stage advance failed for property %s event %s: %v", payload.PropertyID.Hex(), payload.Event, err)
		return err
	}
	return nil
}

// HandleNotificationStoreTask persists an in-app notification.
func (p *TaskProcessor) HandleNotificationStoreTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}
	n := payload.Notification
	if _, err := p.notificationService.Store(ctx, &n); err != nil {
		log.Printf("Failed to store notification for %v: %v", n.Recipient, err)
		return err
	}
	return nil
}

// HandleEmailDeliveryTask renders a template and sends the email.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		// Internal-only emails (e.g. lease rejection memos) have no external
		// recipient; log and drop.
		log.Printf("Email task %s has no recipient, dropping. Data: %v", payload.TemplateID, payload.Data)
		return nil
	}

	locale := payload.Locale
	if locale == "" {
		locale = "en-US"
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, locale, err)
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	// Simple placeholder replacement (replace {{.key}}).
	subjectRendered := tmpl.Subject
	bodyRendered := tmpl.Body
	for key, val := range payload.Data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subjectRendered = strings.ReplaceAll(subjectRendered, placeholder, valueStr)
		bodyRendered = strings.ReplaceAll(bodyRendered, placeholder, valueStr)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectRendered))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(bodyRendered)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, subjectRendered, []byte(sb.String())); err != nil {
		log.Printf("Email sending failed (will retry): %v", err)
		return err
	}

	log.Printf("Email task processed: To=%s, Template=%s", payload.To, payload.TemplateID)
	return nil
}

// HandleImageProcessTask normalizes an uploaded property photo: size and
// dimension limits, resize to fit, re-encode as JPEG, then attach the key to
// the property.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, PropertyID=%s", payload.S3Key, payload.PropertyID.Hex())

	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read image data: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	var processedImageData []byte
	contentType := aws.ToString(getObjectOutput.ContentType)

	if needsResize {
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedImageData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedImageData)) > maxSizeBytes {
			log.Printf("Resized image %s still exceeds max size. Skipping.", payload.S3Key)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}
	} else {
		processedImageData = imgData
	}

	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(payload.S3Key),
		Body:        bytes.NewReader(processedImageData),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}

	if err := p.propertyService.AddPhoto(ctx, payload.PropertyID, payload.LandlordID, payload.S3Key); err != nil {
		log.Printf("Error adding photo key %s to property %s: %v", payload.S3Key, payload.PropertyID.Hex(), err)
		return fmt.Errorf("failed to update property with processed photo: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, PropertyID=%s", payload.S3Key, payload.PropertyID.Hex())
	return nil
}

// HandlePhantomCleanupTask soft-deletes phantom renter accounts whose
// invitation never converted.
func (p *TaskProcessor) HandlePhantomCleanupTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Starting phantom user cleanup task...")
	maxAge := p.configService.GetDuration(ctx, "MAX_PHANTOM_AGE_SECONDS", p.cfg.MaxPhantomAge)
	deleted, err := p.userService.DeleteStalePhantoms(ctx, maxAge)
	if err != nil {
		log.Printf("Error cleaning up phantom users: %v", err)
		return err
	}
	log.Printf("Phantom user cleanup finished. Deleted %d users.", deleted)
	return nil
}

// HandleInvoiceOverdueTask sweeps overdue invoices and rent payments.
func (p *TaskProcessor) HandleInvoiceOverdueTask(ctx context.Context, t *asynq.Task) error {
	if _, err := p.invoiceService.SweepOverdue(ctx); err != nil {
		log.Printf("Invoice overdue sweep failed: %v", err)
		return err
	}
	if _, err := p.paymentService.MarkOverdue(ctx); err != nil {
		log.Printf("Rent payment overdue sweep failed: %v", err)
		return err
	}
	return nil
}

// HandleRentDueCheckTask emails rent reminders for instalments due soon.
func (p *TaskProcessor) HandleRentDueCheckTask(ctx context.Context, t *asynq.Task) error {
	reminded, err := p.paymentService.RemindUpcoming(ctx, 3*24*time.Hour)
	if err != nil {
		log.Printf("Rent due check failed: %v", err)
		return err
	}
	if reminded > 0 {
		log.Printf("Rent due check sent %d reminders.", reminded)
	}
	return nil
}

// HandleInvitationExpireTask expires stale pending invitations.
func (p *TaskProcessor) HandleInvitationExpireTask(ctx context.Context, t *asynq.Task) error {
	if _, err := p.invitationService.ExpireStale(ctx); err != nil {
		log.Printf("Invitation expiry sweep failed: %v", err)
		return err
	}
	return nil
}

// HandleLeaseExpireTask expires active leases past their end date.
func (p *TaskProcessor) HandleLeaseExpireTask(ctx context.Context, t *asynq.Task) error {
	if _, err := p.leaseService.ExpireEnded(ctx); err != nil {
		log.Printf("Lease expiry sweep failed: %v", err)
		return err
	}
	return nil
}
