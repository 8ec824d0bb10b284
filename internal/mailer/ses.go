package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SendEmailAPI SES v2 SendEmail 操作
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport 通过 SES v2 发送原始 MIME 邮件
//
// 收件人通过 Destination 传入，Bcc 不出现在邮件头中。
type SESTransport struct {
	client           SendEmailAPI
	configurationSet string
}

// NewSESFromConfig 使用 AWS 配置创建 SES 通道
func NewSESFromConfig(awsCfg aws.Config, endpoint *string, configurationSet string) *SESTransport {
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
	return NewSES(client, configurationSet)
}

// NewSES 使用指定客户端创建 SES 通道
func NewSES(client SendEmailAPI, configurationSet string) *SESTransport {
	return &SESTransport{client: client, configurationSet: configurationSet}
}

// Send 投递邮件，返回 SES 分配的消息 ID
func (t *SESTransport) Send(ctx context.Context, from string, recipients []string, raw []byte) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: recipients},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
