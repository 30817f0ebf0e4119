package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// pipeline counters
var (
	inboundMessages  uint64
	duplicateInbound uint64
	outboundSent     uint64
	outboundFailed   uint64
	botReplies       uint64
	handoffs         uint64
	routed           uint64
	routingFailures  uint64
	campaignSends    uint64
	webhookRejected  uint64
)

func IncInboundMessage()     { atomic.AddUint64(&inboundMessages, 1) }
func IncDuplicateInbound()   { atomic.AddUint64(&duplicateInbound, 1) }
func IncOutboundSent()       { atomic.AddUint64(&outboundSent, 1) }
func IncOutboundFailed()     { atomic.AddUint64(&outboundFailed, 1) }
func IncBotReply()           { atomic.AddUint64(&botReplies, 1) }
func IncHandoff()            { atomic.AddUint64(&handoffs, 1) }
func IncConversationRouted() { atomic.AddUint64(&routed, 1) }
func IncRoutingFailure()     { atomic.AddUint64(&routingFailures, 1) }
func IncCampaignSend()       { atomic.AddUint64(&campaignSends, 1) }
func IncWebhookRejected()    { atomic.AddUint64(&webhookRejected, 1) }

// Snapshot is a point-in-time copy of the pipeline counters.
type Snapshot struct {
	InboundMessages  uint64 `json:"inbound_messages"`
	DuplicateInbound uint64 `json:"duplicate_inbound"`
	OutboundSent     uint64 `json:"outbound_sent"`
	OutboundFailed   uint64 `json:"outbound_failed"`
	BotReplies       uint64 `json:"bot_replies"`
	Handoffs         uint64 `json:"handoffs"`
	Routed           uint64 `json:"routed"`
	RoutingFailures  uint64 `json:"routing_failures"`
	CampaignSends    uint64 `json:"campaign_sends"`
	WebhookRejected  uint64 `json:"webhook_rejected"`
}

// Current returns the pipeline counters.
func Current() Snapshot {
	return Snapshot{
		InboundMessages:  atomic.LoadUint64(&inboundMessages),
		DuplicateInbound: atomic.LoadUint64(&duplicateInbound),
		OutboundSent:     atomic.LoadUint64(&outboundSent),
		OutboundFailed:   atomic.LoadUint64(&outboundFailed),
		BotReplies:       atomic.LoadUint64(&botReplies),
		Handoffs:         atomic.LoadUint64(&handoffs),
		Routed:           atomic.LoadUint64(&routed),
		RoutingFailures:  atomic.LoadUint64(&routingFailures),
		CampaignSends:    atomic.LoadUint64(&campaignSends),
		WebhookRejected:  atomic.LoadUint64(&webhookRejected),
	}
}

func reset() {
	rl = rateLimitStats{}
	for _, p := range []*uint64{
		&inboundMessages, &duplicateInbound, &outboundSent, &outboundFailed, &botReplies,
		&handoffs, &routed, &routingFailures, &campaignSends, &webhookRejected,
	} {
		atomic.StoreUint64(p, 0)
	}
}

// WritePrometheus renders all counters in the Prometheus text format.
func WritePrometheus(w io.Writer) error {
	s := Current()
	counters := []struct {
		name, help string
		value      uint64
	}{
		{"msgcore_inbound_messages_total", "Inbound messages persisted", s.InboundMessages},
		{"msgcore_inbound_duplicates_total", "Inbound messages dropped as duplicates", s.DuplicateInbound},
		{"msgcore_outbound_sent_total", "Outbound messages accepted by the gateway", s.OutboundSent},
		{"msgcore_outbound_failed_total", "Outbound messages the gateway rejected", s.OutboundFailed},
		{"msgcore_bot_replies_total", "Automated replies sent", s.BotReplies},
		{"msgcore_handoffs_total", "Conversations escalated to humans", s.Handoffs},
		{"msgcore_conversations_routed_total", "Conversations assigned to an agent", s.Routed},
		{"msgcore_routing_failures_total", "Routing attempts with no eligible agent", s.RoutingFailures},
		{"msgcore_campaign_sends_total", "Campaign send attempts", s.CampaignSends},
		{"msgcore_webhook_rejected_total", "Webhook payloads rejected", s.WebhookRejected},
	}
	for _, c := range counters {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.value); err != nil {
			return err
		}
	}

	total, by := RateLimitSnapshot()
	if _, err := fmt.Fprintf(w, "# HELP msgcore_rate_limit_dropped_total Requests rejected by the rate limiter\n# TYPE msgcore_rate_limit_dropped_total counter\nmsgcore_rate_limit_dropped_total %d\n", total); err != nil {
		return err
	}
	prefixes := make([]string, 0, len(by))
	for p := range by {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if _, err := fmt.Fprintf(w, "msgcore_rate_limit_dropped_by_prefix_total{prefix=%q} %d\n", p, by[p]); err != nil {
			return err
		}
	}
	return nil
}
