package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"vmail/backend/internal/domain"
)

// SendMessageAPI SQS SendMessage 操作
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher 把新邮件通知写入 SQS 队列，供下游消费者推送
type SQSPublisher struct {
	client   SendMessageAPI
	queueURL string
}

// NewSQSFromConfig 使用 AWS 配置创建 SQS 发布者
func NewSQSFromConfig(awsCfg aws.Config, endpoint *string, queueURL string) *SQSPublisher {
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
	return NewSQSPublisher(client, queueURL)
}

// NewSQSPublisher 使用指定客户端创建发布者
func NewSQSPublisher(client SendMessageAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish 发送通知消息，userId 作为消息属性便于过滤
func (p *SQSPublisher) Publish(ctx context.Context, event domain.NewMailEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"userId": {DataType: aws.String("String"), StringValue: aws.String(event.UserID)},
			"type":   {DataType: aws.String("String"), StringValue: aws.String("new_mail")},
		},
	})
	if err != nil {
		return fmt.Errorf("send sqs message: %w", err)
	}
	return nil
}
