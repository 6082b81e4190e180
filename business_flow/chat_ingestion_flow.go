package businessflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/sirupsen/logrus"
)

// ChatMessage is one message from the chat stream
type ChatMessage struct {
	ChatID     string
	MessageID  string
	Text       string
	ReceivedAt time.Time
}

// ChatProcessingResult is the outcome of a message that parsed as a sale
type ChatProcessingResult struct {
	Hash             string
	AlreadyProcessed bool
	Sale             *SaleProcessingResult
}

// ChatIngestionFlow turns sale notifications posted in chat into sale events.
// Messages that are not sale notifications return ErrNotASaleEvent and should be dropped quietly.
type ChatIngestionFlow interface {
	ProcessMessage(ctx context.Context, msg ChatMessage) (*ChatProcessingResult, error)
}

type ChatIngestionFlowImpl struct {
	pipeline    SalePipeline
	processRepo repository.ProcessedMessageRepository
	logger      logrus.FieldLogger
}

func NewChatIngestionFlow(pipeline SalePipeline, processRepo repository.ProcessedMessageRepository, logger logrus.FieldLogger) ChatIngestionFlow {
	return &ChatIngestionFlowImpl{pipeline: pipeline, processRepo: processRepo, logger: logger}
}

// MessageHash is the dedupe key of a chat sale: sha256 of the transaction id
func MessageHash(transactionID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(transactionID)))
	return hex.EncodeToString(sum[:])
}

func (f *ChatIngestionFlowImpl) ProcessMessage(ctx context.Context, msg ChatMessage) (*ChatProcessingResult, error) {
	parsed, err := ParseChatMessage(msg.Text)
	if err != nil {
		return nil, err
	}

	saleCode := utils.FirstNonEmpty(parsed.SaleCode, parsed.TransactionID)
	hash := MessageHash(parsed.TransactionID)
	created, err := f.processRepo.InsertIfAbsent(ctx, &models.ProcessedMessage{
		Hash:          hash,
		TransactionID: parsed.TransactionID,
		SaleCode:      saleCode,
		ChatID:        utils.NilIfEmpty(msg.ChatID),
	})
	if err != nil {
		return nil, NewBusinessError("MESSAGE_DEDUPE_FAILED", "Failed to record processed message", err)
	}
	if !created {
		f.logger.WithFields(logrus.Fields{"sale_code": saleCode, "hash": hash}).Debug("Chat sale already processed")
		return &ChatProcessingResult{Hash: hash, AlreadyProcessed: true}, nil
	}

	at := msg.ReceivedAt
	if at.IsZero() {
		at = utils.UTCNow()
	}
	sale, err := f.pipeline.Process(ctx, SaleEvent{
		SaleCode:        saleCode,
		TransactionID:   parsed.TransactionID,
		Status:          models.SaleStatusApproved,
		CustomerName:    parsed.CustomerName,
		CustomerEmail:   parsed.CustomerEmail,
		PlanName:        utils.DefaultPlanName,
		PlanValue:       utils.ToPtr(NormalizeAmount(parsed.NetValue, AmountSourceMajor, 0)),
		PaymentPlatform: parsed.PaymentPlatform,
		PaymentMethod:   parsed.PaymentMethod,
		ChatID:          msg.ChatID,
		EventTime:       at.UTC(),
		ApprovedAt:      utils.ToPtr(at.UTC()),
	})
	if err != nil {
		// detach so a cancelled request still frees the hash for redelivery
		if relErr := f.processRepo.DeleteByHash(context.WithoutCancel(ctx), hash); relErr != nil {
			f.logger.WithError(relErr).WithFields(logrus.Fields{"sale_code": saleCode, "hash": hash}).Error("Failed to release chat message hash")
		}
		return nil, err
	}
	return &ChatProcessingResult{Hash: hash, Sale: sale}, nil
}
