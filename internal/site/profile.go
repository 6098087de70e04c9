// Package site describes the remote note-sharing platform: its URLs, the
// page elements the automation looks for, and the URL patterns that carry
// meaning (sign-out redirects, published notes).
//
// Nothing outside this package hard-codes markup. Deployments that need
// different selectors override fields on a Profile.
package site

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Selectors groups every element locator used by the login and publish flows.
type Selectors struct {
	// Login detection.
	LoginButton      string
	OverlayMask      string
	UserMarker       string
	UserMarkerHidden string
	LoginModal       string

	// Publish console.
	UploadArea     string
	ImageTab       string
	VideoTab       string
	UploadInput    string
	CoverInput     string
	Thumbnail      string
	SubmitButton   string
	TitleInput     string
	BodyEditor     string
	Suggestions    string
	SuggestionItem string
	ContentCounter string
	SuccessText    string
	ErrorMessage   string
	PopupClose     string
}

// Profile is everything the automation knows about the platform.
type Profile struct {
	HomeURL    string
	PublishURL string

	// MaxImages and MaxTitleRunes mirror the platform's own limits.
	MaxImages     int
	MaxTitleRunes int

	Selectors Selectors

	// SuccessTexts are substrings of the confirmation toast.
	SuccessTexts []string
}

// DefaultProfile returns the profile for the production site.
func DefaultProfile() Profile {
	return Profile{
		HomeURL:       "https://www.xiaohongshu.com/explore",
		PublishURL:    "https://creator.xiaohongshu.com/publish/publish?source=official",
		MaxImages:     9,
		MaxTitleRunes: 20,
		Selectors: Selectors{
			LoginButton:      ".side-bar .login-container .login-btn, button.login-btn",
			OverlayMask:      ".reds-mask, .login-mask",
			UserMarker:       ".main-container .user .link-wrapper .channel",
			UserMarkerHidden: "xpath=//li[contains(@class,'user')]//a[contains(@href,'/user/profile/')]",
			LoginModal:       ".login-container .qrcode-img, .login-modal",

			UploadArea:     ".upload-content, .upload-wrapper",
			ImageTab:       "xpath=//div[contains(@class,'creator-tab')][.//span[normalize-space()='上传图文']]",
			VideoTab:       "xpath=//div[contains(@class,'creator-tab')][.//span[normalize-space()='上传视频']]",
			UploadInput:    ".upload-input, input[type='file']",
			CoverInput:     ".cover-upload input[type='file']",
			Thumbnail:      ".img-preview-area .pr",
			SubmitButton:   ".publish-page-publish-btn button.bg-red, button.publishBtn",
			TitleInput:     "div.d-input input, input.title-input",
			BodyEditor:     "div.ql-editor, .tiptap.ProseMirror",
			Suggestions:    "#creator-editor-topic-container, .ql-mention-list",
			SuggestionItem: "#creator-editor-topic-container .item, .ql-mention-list-item",
			ContentCounter: ".edit-container .length-tip, .content-length",
			SuccessText:    ".success-container, .publish-success",
			ErrorMessage:   ".d-toast.error, .ant-message-error, .publish-error",
			PopupClose:     ".d-modal .close, .permission-dialog .cancel",
		},
		SuccessTexts: []string{"发布成功", "Published"},
	}
}

// IsAuthFailure reports whether u is the redirect the platform issues when
// it revokes a session: the login page with an unauthorized reason.
func (p Profile) IsAuthFailure(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if !strings.Contains(parsed.Path, "/login") {
		return false
	}
	return parsed.Query().Get("redirectReason") == "401"
}

// IsLoginPage reports whether u is any login-page variant, including the
// ones reached without an explicit unauthorized reason.
func (p Profile) IsLoginPage(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Path, "/login")
}

var notePath = regexp.MustCompile(`/(?:discovery/item|explore)/([0-9a-zA-Z]+)`)

// NoteID extracts the published note id from u. ok is false when u is not a
// note page.
func (p Profile) NoteID(u string) (id string, ok bool) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", false
	}
	m := notePath.FindStringSubmatch(parsed.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsSuccessText reports whether text contains a publish confirmation.
func (p Profile) IsSuccessText(text string) bool {
	for _, s := range p.SuccessTexts {
		if s != "" && strings.Contains(text, s) {
			return true
		}
	}
	return false
}

var counterPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// ParseCounter reads a "used/limit" character counter such as "1232/1000".
func ParseCounter(text string) (used, limit int, ok bool) {
	m := counterPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	used, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	limit, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return used, limit, true
}
