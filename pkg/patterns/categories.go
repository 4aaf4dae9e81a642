package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All patterns are registered here and compiled once at package init.
// This provides a single source of truth for detection patterns.
// =============================================================================

// --- PERSONAL INFORMATION PATTERNS (content detectors) ---
func (r *Registry) registerPersonalInfoPatterns() {
	// Phone numbers
	r.register("cn_mobile", `\b1[3-9]\d{9}\b`, CategoryPhone, 60, "Chinese mobile number")
	r.register("intl_phone", `\+[1-9]\d{1,2}[-\s]?\d{2,4}[-\s]?\d{3,4}[-\s]?\d{3,4}\b`, CategoryPhone, 60, "International phone number")
	r.register("us_phone", `\b\d{3}[-.]\d{3}[-.]\d{4}\b`, CategoryPhone, 55, "US-style phone number")

	// Email addresses
	r.register("email", `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`, CategoryEmail, 60, "Email address")

	// National identity numbers
	r.register("cn_national_id", `\b\d{17}[\dXx]\b`, CategoryNationalID, 80, "18-digit national identity number")
	r.register("us_ssn", `\b\d{3}-\d{2}-\d{4}\b`, CategoryNationalID, 80, "US Social Security number")

	// Payment cards
	r.register("card_spaced", `\b(?:\d{4}[- ]){3}\d{4}\b`, CategoryPaymentCard, 80, "Payment card number with separators")
	r.register("card_plain", `\b\d{16,19}\b`, CategoryPaymentCard, 70, "Payment card number")
}

// --- SPAM INDICATOR PATTERNS (content detectors) ---
// Each matched indicator contributes a fixed step to the spam score; the
// Weight field carries that step scaled to 0-100.
func (r *Registry) registerSpamPatterns() {
	cat := CategorySpam

	r.register("spam_wechat", `加微信`, cat, 30, "Solicitation to move to WeChat")
	r.register("spam_contact_zh", `联系我`, cat, 30, "Contact-me solicitation (zh)")
	r.register("spam_discount_zh", `优惠`, cat, 30, "Discount bait (zh)")
	r.register("spam_free_zh", `免费`, cat, 30, "Free-offer bait (zh)")
	r.register("spam_earn_zh", `赚钱`, cat, 30, "Make-money bait (zh)")
	r.register("spam_contact_en", `(?i)\bcontact me\b`, cat, 30, "Contact-me solicitation (en)")
	r.register("spam_free_money", `(?i)\bfree (?:money|cash|gift)\b`, cat, 30, "Free-money bait")
	r.register("spam_click_here", `(?i)\bclick (?:here|this link)\b`, cat, 30, "Click-through bait")
	r.register("spam_limited_offer", `(?i)\blimited (?:time )?offer\b`, cat, 30, "Urgency bait")
	r.register("spam_earn_en", `(?i)\b(?:earn|make) \$?\d+\b`, cat, 30, "Earnings bait")
}

// --- ATTACK SIGNATURE PATTERNS (security event payloads) ---
func (r *Registry) registerAttackPatterns() {
	r.register("sql_union", `(?i)\bunion\s+(?:all\s+)?select\b`, CategorySQLInjection, 90, "UNION SELECT probe")
	r.register("sql_or_true", `(?i)['"]\s*or\s+['"]?1['"]?\s*=\s*['"]?1`, CategorySQLInjection, 85, "Tautology injection")
	r.register("sql_comment", `(?i)(?:--|#|/\*)\s*$`, CategorySQLInjection, 50, "Trailing SQL comment")
	r.register("sql_stacked", `(?i);\s*(?:drop|delete|update|insert)\b`, CategorySQLInjection, 90, "Stacked query")

	r.register("xss_script_tag", `(?i)<script[\s>]`, CategoryXSS, 85, "Script tag")
	r.register("xss_event_handler", `(?i)\bon(?:error|load|click|mouseover)\s*=`, CategoryXSS, 75, "Inline event handler")
	r.register("xss_js_uri", `(?i)javascript:`, CategoryXSS, 70, "javascript: URI")

	r.register("path_dotdot", `(?:\.\./){2,}`, CategoryPathTraversal, 70, "Relative path escape")
	r.register("path_encoded", `(?i)%2e%2e%2f`, CategoryPathTraversal, 70, "URL-encoded path escape")
}
