package api

import (
	"time"

	"github.com/google/uuid"
)

// Wire types for the Pond backend. Field names follow the server's JSON
// contract; timestamps arrive as ISO-8601 without zone, so they are carried
// as strings where the server emits LocalDateTime.

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the short-lived access token. The refresh credential
// arrives separately as an HTTP-only cookie and never surfaces here.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type VerifyRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verificationCode"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type User struct {
	UserGU    uuid.UUID `json:"userGU"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarURL"`
	Bio       string    `json:"bio"`
	UserScore float64   `json:"userScore"`
	UserType  bool      `json:"userType"`
}

type UpdateUserRequest struct {
	Username string `json:"username,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

type Listing struct {
	ListingGU   uuid.UUID `json:"listingGU"`
	UserGU      uuid.UUID `json:"userGU"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Condition   string    `json:"condition"`
	Category    string    `json:"category"`
	Picture1URL string    `json:"picture1_url"`
	Picture2URL string    `json:"picture2_url"`
	CreatedAt   string    `json:"createdAt"`
	Sold        bool      `json:"sold"`
	SoldTo      uuid.UUID `json:"soldTo,omitempty"`
}

type CreateListingRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Condition   string  `json:"condition"`
	Category    string  `json:"category"`
}

type UpdateListingRequest struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Condition   string  `json:"condition,omitempty"`
	Category    string  `json:"category,omitempty"`
}

type FilterListingsRequest struct {
	Categories []string `json:"categories,omitempty"`
	MinPrice   float64  `json:"minPrice,omitempty"`
	MaxPrice   float64  `json:"maxPrice,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	SortOrder  string   `json:"sortOrder,omitempty"`
}

type MarkSoldRequest struct {
	SoldTo uuid.UUID `json:"soldTo"`
}

type Review struct {
	ID         uuid.UUID `json:"id"`
	ReviewerGU uuid.UUID `json:"reviewerGu"`
	RevieweeGU uuid.UUID `json:"revieweeGu"`
	ListingGU  uuid.UUID `json:"listingGU"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	ReviewType string    `json:"reviewType"`
	Timestamp  string    `json:"timestamp"`
}

type CreateReviewRequest struct {
	RevieweeGU uuid.UUID `json:"revieweeGu"`
	ListingGU  uuid.UUID `json:"listingGU"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	ReviewType string    `json:"reviewType"`
}

type RatingStats struct {
	UserGU        uuid.UUID `json:"userGu"`
	AverageRating float64   `json:"averageRating"`
	TotalReviews  int64     `json:"totalReviews"`
}

type Report struct {
	ReportGU     string `json:"reportGU"`
	UserGU       string `json:"userGU"`
	Username     string `json:"username"`
	ListingGU    string `json:"listingGU"`
	ListingTitle string `json:"listingTitle"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

type CreateReportRequest struct {
	ListingGU string `json:"listingGU"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

type ResolveReportRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"adminNotes,omitempty"`
}

// Message is the server-echoed chat message. The client never assigns ids;
// sent messages come back through the room subscription with the id the
// server picked.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderGU  uuid.UUID `json:"senderGU"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
	Read      bool      `json:"read"`
}

type ChatRoomSummary struct {
	RoomID        string    `json:"roomId"`
	ListingGU     uuid.UUID `json:"listingGU"`
	ListingTitle  string    `json:"listingTitle"`
	ListingImage  string    `json:"listingImage"`
	OtherUserGU   uuid.UUID `json:"otherUserGU"`
	OtherUsername string    `json:"otherUsername"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt string    `json:"lastMessageAt"`
	UnreadCount   int64     `json:"unreadCount"`
}

type ChatRoomDetail struct {
	RoomID        string    `json:"roomId"`
	ListingGU     uuid.UUID `json:"listingGU"`
	ListingTitle  string    `json:"listingTitle"`
	ListingPrice  float64   `json:"listingPrice"`
	ListingImage  string    `json:"listingImage"`
	OtherUserGU   uuid.UUID `json:"otherUserGU"`
	OtherUsername string    `json:"otherUsername"`
	CreatedAt     string    `json:"createdAt"`
	LastMessageAt string    `json:"lastMessageAt"`
}

type UnreadCount struct {
	UnreadCount int64 `json:"unreadCount"`
}

type MessageResult struct {
	Message string `json:"message"`
}

type ActionResult struct {
	Result string `json:"result"`
}

// SentAt parses a server LocalDateTime timestamp. Best effort; the zero time
// is returned for formats the server never emits.
func SentAt(ts string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
