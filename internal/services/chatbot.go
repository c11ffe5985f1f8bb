package services

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"dsolar/internal/metrics"
)

// 聊天意图。
const (
	IntentGreeting   = "greeting"
	IntentPricing    = "pricing"
	IntentBooking    = "booking"
	IntentCalculator = "calculator"
	IntentSystems    = "systems"
	IntentContact    = "contact"
	IntentSavings    = "savings"
	IntentFallback   = "fallback"
)

const maxChatMessage = 500

// ChatLink 回复中附带的站内链接。
type ChatLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ChatReply 聊天机器人的一次回复。
type ChatReply struct {
	Reply  string     `json:"reply"`
	Intent string     `json:"intent"`
	Links  []ChatLink `json:"links"`
}

type chatRule struct {
	intent   string
	keywords []string
}

// 按顺序匹配，先命中者优先；节省类问题常带 "how much"，须排在报价之前。
var chatRules = []chatRule{
	{IntentBooking, []string{"book", "booking", "appointment", "schedule", "visit", "consultation", "inspection", "survey"}},
	{IntentSavings, []string{"save", "saving", "savings", "bill", "payback", "roi", "return"}},
	{IntentPricing, []string{"price", "prices", "pricing", "cost", "costs", "how much", "package", "packages", "quote", "cheap", "cheapest"}},
	{IntentCalculator, []string{"calculator", "calculate", "estimate", "size", "sizing", "kw", "kilowatt"}},
	{IntentSystems, []string{"hybrid", "on-grid", "ongrid", "grid", "battery", "batteries", "off-grid", "net metering", "inverter"}},
	{IntentContact, []string{"contact", "phone", "call", "email", "hours", "office", "address", "location", "where"}},
	{IntentGreeting, []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening", "kumusta"}},
}

// ChatbotService 基于关键词的站点问答。
type ChatbotService struct {
	packages *PackageService
	calc     *CalculatorService
	site     string
}

func NewChatbotService(packages *PackageService, calc *CalculatorService, site string) *ChatbotService {
	return &ChatbotService{packages: packages, calc: calc, site: site}
}

// normalizeChat 小写化，非字母数字替换为空格并压缩空白。
func normalizeChat(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// DetectIntent 返回消息匹配的意图。
func DetectIntent(msg string) string {
	text := " " + normalizeChat(msg) + " "
	for _, r := range chatRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, " "+kw+" ") {
				return r.intent
			}
		}
	}
	return IntentFallback
}

// Reply 生成回复。
func (s *ChatbotService) Reply(ctx context.Context, msg string) (*ChatReply, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil, invalid("message", "required")
	}
	if len(msg) > maxChatMessage {
		return nil, invalid("message", "too_long")
	}
	intent := DetectIntent(msg)
	metrics.ChatMessages.WithLabelValues(intent).Inc()
	out := &ChatReply{Intent: intent, Links: []ChatLink{}}
	switch intent {
	case IntentGreeting:
		out.Reply = "Hello! I'm the " + s.site + " assistant. Ask me about our solar packages, savings, or booking a free site visit."
	case IntentPricing:
		reply, err := s.pricing(ctx)
		if err != nil {
			return nil, err
		}
		out.Reply = reply
		out.Links = append(out.Links, ChatLink{"See savings estimate", "/calculator"}, ChatLink{"Book a consultation", "/book"})
	case IntentBooking:
		out.Reply = "You can book a free on-site consultation online. Pick a date and time, then confirm from the email we send you."
		out.Links = append(out.Links, ChatLink{"Book a consultation", "/book"})
	case IntentCalculator:
		out.Reply = "Our savings calculator estimates the system size, cost and payback period from your monthly electricity bill."
		out.Links = append(out.Links, ChatLink{"Open the calculator", "/calculator"})
	case IntentSystems:
		out.Reply = "On-grid systems feed your home and export excess power to the grid; they are the most affordable option but switch off during outages. " +
			"Hybrid systems add a battery so you keep power during brownouts and use more of your own solar at night."
		out.Links = append(out.Links, ChatLink{"Compare packages", "/#packages"})
	case IntentSavings:
		out.Reply = "Most households recover their investment within a few years. Enter your monthly bill in the calculator for a personalised estimate."
		out.Links = append(out.Links, ChatLink{"Estimate my savings", "/calculator"})
	case IntentContact:
		out.Reply = "Our team is available Monday to Saturday, 9:00 to 17:00. The fastest way to reach us is to book a consultation and we'll call you back."
		out.Links = append(out.Links, ChatLink{"Book a consultation", "/book"}, ChatLink{"About us", "/about"})
	default:
		out.Reply = "Sorry, I didn't quite get that. I can help with pricing, savings, hybrid vs on-grid systems, or booking a site visit."
		out.Links = append(out.Links, ChatLink{"Book a consultation", "/book"}, ChatLink{"Savings calculator", "/calculator"})
	}
	return out, nil
}

func (s *ChatbotService) pricing(ctx context.Context) (string, error) {
	currency := "PHP"
	if p, err := s.calc.Params(ctx); err == nil {
		currency = p.Currency
	}
	pr := message.NewPrinter(language.English)
	var parts []string
	labels := map[string]string{PackageOnGrid: "On-grid", PackageHybrid: "Hybrid"}
	for _, t := range []string{PackageOnGrid, PackageHybrid} {
		pkg, err := s.packages.Cheapest(ctx, t)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, pr.Sprintf("%s systems start at %s %.2f (%s, %.1f kW)", labels[t], currency, pkg.Price, pkg.Name, pkg.SystemKW))
	}
	if len(parts) == 0 {
		return "Our pricing depends on your home. Book a free consultation and we'll prepare a quote.", nil
	}
	return strings.Join(parts, "; ") + ". Prices include installation; a site visit confirms the final quote.", nil
}
