package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher は SNS クライアントのうち SMS 送信に使う部分です
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSProvider は Amazon SNS で SMS を送信します
type SNSProvider struct {
	client      SNSPublisher
	countryCode string
	senderID    string
}

// NewSNSProvider は新しいSNSProviderを作成します
func NewSNSProvider(client SNSPublisher, countryCode, senderID string) *SNSProvider {
	return &SNSProvider{
		client:      client,
		countryCode: countryCode,
		senderID:    senderID,
	}
}

// Send は数字のみの電話番号を E.164 形式に変換して送信します
func (p *SNSProvider) Send(ctx context.Context, phone, text string) (string, error) {
	attributes := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if p.senderID != "" {
		attributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	output, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(ToE164(phone, p.countryCode)),
		Message:           aws.String(text),
		MessageAttributes: attributes,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}
	return aws.ToString(output.MessageId), nil
}

// ToE164 は国内形式の番号を国際形式に変換します。
// 先頭の 0 は国番号に置き換え、すでに国番号で始まる番号はそのまま使います
func ToE164(digits, countryCode string) string {
	switch {
	case countryCode == "":
		return "+" + digits
	case strings.HasPrefix(digits, "0"):
		return "+" + countryCode + strings.TrimPrefix(digits, "0")
	case strings.HasPrefix(digits, countryCode):
		return "+" + digits
	default:
		return "+" + countryCode + digits
	}
}
