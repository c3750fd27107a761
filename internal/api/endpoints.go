package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
)

func doJSON[T any](ctx context.Context, c *Client, d Descriptor) (T, error) {
	var out T
	res, err := c.Do(ctx, d)
	if err != nil {
		return out, err
	}
	if res.NoContent {
		return out, nil
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return out, fmt.Errorf("%s: decode response: %w", d.Op, err)
	}
	return out, nil
}

// --- Auth ---

func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	return doJSON[RegisterResponse](ctx, c, Descriptor{
		Path: "/auth/signup", Method: http.MethodPost, Body: req, Op: "Register",
	})
}

// Login authenticates and installs the returned access token into the
// session. The refresh cookie set by the server lands in the cookie jar.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	out, err := doJSON[LoginResponse](ctx, c, Descriptor{
		Path: "/auth/login", Method: http.MethodPost, Body: req, Op: "Login",
	})
	if err != nil {
		return LoginResponse{}, err
	}
	if err := c.sess.SetToken(ctx, out.Token); err != nil {
		return LoginResponse{}, err
	}
	return out, nil
}

func (c *Client) VerifyEmail(ctx context.Context, req VerifyRequest) (MessageResult, error) {
	return doJSON[MessageResult](ctx, c, Descriptor{
		Path: "/auth/verify", Method: http.MethodPost, Body: req, Op: "VerifyEmail",
	})
}

// Logout expires the refresh cookie server-side and drops the local session.
// RefreshToken forces an access-token refresh using the stored refresh
// cookie, e.g. ahead of a long-running operation. The pipeline already
// refreshes on demand; most callers never need this.
func (c *Client) RefreshToken(ctx context.Context) error {
	token, _ := c.sess.Token()
	return c.refresh(ctx, token)
}

func (c *Client) Logout(ctx context.Context) error {
	if _, err := doJSON[MessageResult](ctx, c, Descriptor{
		Path: "/auth/logout", Method: http.MethodPost, Op: "Logout",
	}); err != nil {
		return err
	}
	return c.sess.Reset(ctx)
}

// --- Users ---

func (c *Client) GetMe(ctx context.Context) (User, error) {
	return doJSON[User](ctx, c, Descriptor{
		Path: "/users/me", Method: http.MethodGet, Op: "GetMe",
	})
}

func (c *Client) GetUserProfile(ctx context.Context, username string) (User, error) {
	return doJSON[User](ctx, c, Descriptor{
		Path: "/users/:username", Method: http.MethodGet,
		Params: map[string]any{"username": username}, Op: "GetUserProfile",
	})
}

func (c *Client) UpdateMe(ctx context.Context, req UpdateUserRequest) (User, error) {
	return doJSON[User](ctx, c, Descriptor{
		Path: "/users/me", Method: http.MethodPut, Body: req, Op: "UpdateMe",
	})
}

// UploadAvatar sends the image as multipart form data; the body passes
// through the pipeline untouched.
func (c *Client) UploadAvatar(ctx context.Context, filename string, image io.Reader) (User, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return User{}, fmt.Errorf("UploadAvatar: build form: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return User{}, fmt.Errorf("UploadAvatar: read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return User{}, fmt.Errorf("UploadAvatar: finish form: %w", err)
	}

	return doJSON[User](ctx, c, Descriptor{
		Path: "/uploads/avatar", Method: http.MethodPost, Body: &buf, Op: "UploadAvatar",
		Headers: map[string]string{"Content-Type": mw.FormDataContentType()},
	})
}

// --- Listings ---

func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (Listing, error) {
	return doJSON[Listing](ctx, c, Descriptor{
		Path: "/listings/create", Method: http.MethodPost, Body: req, Op: "CreateListing",
	})
}

func (c *Client) GetListings(ctx context.Context) ([]Listing, error) {
	return doJSON[[]Listing](ctx, c, Descriptor{
		Path: "/listings", Method: http.MethodGet, Op: "GetListings",
	})
}

func (c *Client) GetMyListings(ctx context.Context) ([]Listing, error) {
	return doJSON[[]Listing](ctx, c, Descriptor{
		Path: "/listings/me", Method: http.MethodGet, Op: "GetMyListings",
	})
}

func (c *Client) GetListing(ctx context.Context, id uuid.UUID) (Listing, error) {
	return doJSON[Listing](ctx, c, Descriptor{
		Path: "/listings/:id", Method: http.MethodGet,
		Params: map[string]any{"id": id}, Op: "GetListing",
	})
}

func (c *Client) FilterListings(ctx context.Context, req FilterListingsRequest) ([]Listing, error) {
	return doJSON[[]Listing](ctx, c, Descriptor{
		Path: "/listings/filter", Method: http.MethodPost, Body: req, Op: "FilterListings",
	})
}

func (c *Client) UpdateListing(ctx context.Context, id uuid.UUID, req UpdateListingRequest) (Listing, error) {
	return doJSON[Listing](ctx, c, Descriptor{
		Path: "/listings/:id", Method: http.MethodPut, Body: req,
		Params: map[string]any{"id": id}, Op: "UpdateListing",
	})
}

func (c *Client) MarkListingSold(ctx context.Context, id, soldTo uuid.UUID) (Listing, error) {
	return doJSON[Listing](ctx, c, Descriptor{
		Path: "/listings/:id/sold/:soldToId", Method: http.MethodPost,
		Params: map[string]any{"id": id, "soldToId": soldTo}, Op: "MarkListingSold",
	})
}

func (c *Client) DeleteListing(ctx context.Context, id uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/listings/:id", Method: http.MethodDelete,
		Params: map[string]any{"id": id}, Op: "DeleteListing",
	})
	return err
}

// --- Saved listings ---

func (c *Client) SaveListing(ctx context.Context, listingGU uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/saved-listings", Method: http.MethodPost,
		Body: map[string]any{"listingGU": listingGU}, Op: "SaveListing",
	})
	return err
}

func (c *Client) UnsaveListing(ctx context.Context, listingGU uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/saved-listings", Method: http.MethodDelete,
		Body: map[string]any{"listingGU": listingGU}, Op: "UnsaveListing",
	})
	return err
}

func (c *Client) GetSavedListings(ctx context.Context) ([]Listing, error) {
	return doJSON[[]Listing](ctx, c, Descriptor{
		Path: "/saved-listings", Method: http.MethodGet, Op: "GetSavedListings",
	})
}

// --- Following ---

func (c *Client) FollowUser(ctx context.Context, userGU uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/following/:userId", Method: http.MethodPost,
		Params: map[string]any{"userId": userGU}, Op: "FollowUser",
	})
	return err
}

func (c *Client) UnfollowUser(ctx context.Context, userGU uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/following/:userId", Method: http.MethodDelete,
		Params: map[string]any{"userId": userGU}, Op: "UnfollowUser",
	})
	return err
}

func (c *Client) GetFollowing(ctx context.Context) ([]User, error) {
	return doJSON[[]User](ctx, c, Descriptor{
		Path: "/following/me", Method: http.MethodGet, Op: "GetFollowing",
	})
}

func (c *Client) GetFollowedListings(ctx context.Context) ([]Listing, error) {
	return doJSON[[]Listing](ctx, c, Descriptor{
		Path: "/listings/following", Method: http.MethodPost, Op: "GetFollowedListings",
	})
}

// --- Reviews ---

func (c *Client) CreateReview(ctx context.Context, req CreateReviewRequest) (Review, error) {
	return doJSON[Review](ctx, c, Descriptor{
		Path: "/reviews", Method: http.MethodPost, Body: req, Op: "CreateReview",
	})
}

func (c *Client) UpdateReview(ctx context.Context, reviewID uuid.UUID, req CreateReviewRequest) (Review, error) {
	return doJSON[Review](ctx, c, Descriptor{
		Path: "/reviews/:reviewId", Method: http.MethodPut, Body: req,
		Params: map[string]any{"reviewId": reviewID}, Op: "UpdateReview",
	})
}

func (c *Client) DeleteReview(ctx context.Context, reviewID uuid.UUID) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/reviews/:reviewId", Method: http.MethodDelete,
		Params: map[string]any{"reviewId": reviewID}, Op: "DeleteReview",
	})
	return err
}

func (c *Client) GetUserReviews(ctx context.Context, userGU uuid.UUID) ([]Review, error) {
	return doJSON[[]Review](ctx, c, Descriptor{
		Path: "/reviews/user/:userGu", Method: http.MethodGet,
		Params: map[string]any{"userGu": userGU}, Op: "GetUserReviews",
	})
}

func (c *Client) GetRatingStats(ctx context.Context, userGU uuid.UUID) (RatingStats, error) {
	return doJSON[RatingStats](ctx, c, Descriptor{
		Path: "/reviews/stats/:userGu", Method: http.MethodGet,
		Params: map[string]any{"userGu": userGU}, Op: "GetRatingStats",
	})
}

// --- Reports ---

func (c *Client) CreateReport(ctx context.Context, req CreateReportRequest) (Report, error) {
	return doJSON[Report](ctx, c, Descriptor{
		Path: "/reports", Method: http.MethodPost, Body: req, Op: "CreateReport",
	})
}

func (c *Client) GetOpenReports(ctx context.Context) ([]Report, error) {
	return doJSON[[]Report](ctx, c, Descriptor{
		Path: "/reports/admin", Method: http.MethodGet, Op: "GetOpenReports",
	})
}

func (c *Client) ResolveReport(ctx context.Context, reportGU string, req ResolveReportRequest) (Report, error) {
	return doJSON[Report](ctx, c, Descriptor{
		Path: "/reports/admin/:reportGU", Method: http.MethodPut, Body: req,
		Params: map[string]any{"reportGU": reportGU}, Op: "ResolveReport",
	})
}

// ExportResolvedReportsCSV downloads the admin report archive. The CSV body
// comes back as a raw blob rather than decoded JSON.
func (c *Client) ExportResolvedReportsCSV(ctx context.Context) ([]byte, error) {
	res, err := c.Do(ctx, Descriptor{
		Path: "/reports/admin/resolved", Method: http.MethodGet, Op: "ExportResolvedReportsCSV",
		Headers: map[string]string{"Accept": "text/csv"},
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// --- Chat ---

func (c *Client) InitChatRoom(ctx context.Context, listingGU, buyerGU uuid.UUID) (ChatRoomDetail, error) {
	return doJSON[ChatRoomDetail](ctx, c, Descriptor{
		Path:   fmt.Sprintf("/chat/rooms/init?listingGU=%s&buyerGU=%s", listingGU, buyerGU),
		Method: http.MethodPost, Op: "InitChatRoom",
	})
}

func (c *Client) GetChatRooms(ctx context.Context) ([]ChatRoomSummary, error) {
	return doJSON[[]ChatRoomSummary](ctx, c, Descriptor{
		Path: "/chat/rooms", Method: http.MethodGet, Op: "GetChatRooms",
	})
}

func (c *Client) GetChatRoom(ctx context.Context, roomID string) (ChatRoomDetail, error) {
	return doJSON[ChatRoomDetail](ctx, c, Descriptor{
		Path: "/chat/rooms/:roomId", Method: http.MethodGet,
		Params: map[string]any{"roomId": roomID}, Op: "GetChatRoom",
	})
}

func (c *Client) GetRoomMessages(ctx context.Context, roomID string, page, size int) ([]Message, error) {
	return doJSON[[]Message](ctx, c, Descriptor{
		Path:   fmt.Sprintf("/chat/rooms/:roomId/messages?page=%d&size=%d", page, size),
		Method: http.MethodGet,
		Params: map[string]any{"roomId": roomID}, Op: "GetRoomMessages",
	})
}

func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	_, err := c.Do(ctx, Descriptor{
		Path: "/chat/rooms/:roomId/mark-read", Method: http.MethodPost,
		Params: map[string]any{"roomId": roomID}, Op: "MarkRoomRead",
	})
	return err
}

func (c *Client) GetUnreadCount(ctx context.Context) (UnreadCount, error) {
	return doJSON[UnreadCount](ctx, c, Descriptor{
		Path: "/chat/unread-count", Method: http.MethodGet, Op: "GetUnreadCount",
	})
}
