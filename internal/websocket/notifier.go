package websocket

import (
	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/monitoring"
)

// SubscriberLookup 按地址查找订阅者
type SubscriberLookup interface {
	Lookup(address string) (Subscriber, bool)
}

// Notifier 将邮件推送给地址绑定的唯一订阅者。
//
// 投递语义为尽力而为、至多一次：没有订阅者或发送失败时直接丢弃，不重试也不排队。
type Notifier struct {
	subscribers SubscriberLookup
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewNotifier 创建推送器
func NewNotifier(subscribers SubscriberLookup, metrics *monitoring.Metrics, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		subscribers: subscribers,
		metrics:     metrics,
		log:         log,
	}
}

// Deliver 推送邮件
func (n *Notifier) Deliver(address string, msg *domain.Message) {
	sub, ok := n.subscribers.Lookup(address)
	if !ok {
		n.metrics.RecordDelivery("no_subscriber")
		n.log.Debug("no subscriber bound, message dropped",
			zap.String("address", address),
			zap.String("message_id", msg.ID))
		return
	}

	if err := sub.Send(NewEmailEvent(address, msg)); err != nil {
		n.metrics.RecordDelivery("send_failed")
		n.log.Warn("push delivery failed, message dropped",
			zap.String("address", address),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	n.metrics.RecordDelivery("delivered")
	n.log.Info("message pushed",
		zap.String("address", address),
		zap.String("message_id", msg.ID),
		zap.String("from", msg.From),
		zap.Int("attachments", len(msg.Attachments)))
}
