package aws

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// MessageHandler processes one SQS message body. A nil return deletes the message.
type MessageHandler func(ctx context.Context, body string) error

// QueueSender enqueues a message body.
type QueueSender interface {
	SendMessage(ctx context.Context, body string) error
}

// SQSQueue sends to and long-polls a single queue.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	onError  func(msg string, err error)
}

func NewSQSQueue(cfg sdkaws.Config, queueURL string, onError func(msg string, err error)) *SQSQueue {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL, onError: onError}
}

// StartPolling receives messages until ctx is cancelled.
func (q *SQSQueue) StartPolling(ctx context.Context, handler MessageHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.pollOnce(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			q.onError("Error polling SQS", err)
		}
	}
}

func (q *SQSQueue) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}
		if err := handler(ctx, *msg.Body); err != nil {
			// Left on the queue; it becomes visible again after the visibility timeout.
			q.onError("Failed to process SQS message", err)
			continue
		}
		if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      sdkaws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			q.onError("Failed to delete SQS message", err)
		}
	}
	return nil
}

// SendMessage sends a single message to the queue.
func (q *SQSQueue) SendMessage(ctx context.Context, body string) error {
	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(q.queueURL),
		MessageBody: sdkaws.String(body),
	}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
