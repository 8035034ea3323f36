package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type stubState struct {
	wallets      map[string]WalletAccount
	ledger       []LedgerEntry
	profiles     map[string]Profile
	pointLogs    []PointLogEntry
	packages     map[string]VipPackage
	posts        map[string]Post
	leads        []Lead
	withdrawals  map[string]WithdrawRequest
	intents      map[string]PaymentIntent
	externalRefs map[string]struct{}
	sequence     int
}

func newStubState() *stubState {
	return &stubState{
		wallets:      make(map[string]WalletAccount),
		profiles:     make(map[string]Profile),
		packages:     make(map[string]VipPackage),
		posts:        make(map[string]Post),
		withdrawals:  make(map[string]WithdrawRequest),
		intents:      make(map[string]PaymentIntent),
		externalRefs: make(map[string]struct{}),
	}
}

func cloneProfile(profile Profile) Profile {
	cloned := profile
	cloned.Inventory = profile.Inventory.Clone()
	cloned.Vip = profile.Vip.clone()
	return cloned
}

func (state *stubState) clone() *stubState {
	cloned := newStubState()
	for key, value := range state.wallets {
		cloned.wallets[key] = value
	}
	cloned.ledger = append([]LedgerEntry(nil), state.ledger...)
	for key, value := range state.profiles {
		cloned.profiles[key] = cloneProfile(value)
	}
	cloned.pointLogs = append([]PointLogEntry(nil), state.pointLogs...)
	for key, value := range state.packages {
		cloned.packages[key] = value
	}
	for key, value := range state.posts {
		cloned.posts[key] = value
	}
	cloned.leads = append([]Lead(nil), state.leads...)
	for key, value := range state.withdrawals {
		cloned.withdrawals[key] = value
	}
	for key, value := range state.intents {
		cloned.intents[key] = value
	}
	for key := range state.externalRefs {
		cloned.externalRefs[key] = struct{}{}
	}
	cloned.sequence = state.sequence
	return cloned
}

// stubStore is an in-memory Store with snapshot rollback.
type stubStore struct {
	mu                   *sync.Mutex
	txMu                 *sync.Mutex
	state                **stubState
	inTx                 bool
	walletConflicts      *int
	failOn               map[string]error
	failClearPostVipUser string
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	state := newStubState()
	conflicts := 0
	return &stubStore{
		mu:              &sync.Mutex{},
		txMu:            &sync.Mutex{},
		state:           &state,
		walletConflicts: &conflicts,
		failOn:          make(map[string]error),
	}
}

func (store *stubStore) current() *stubState {
	return *store.state
}

func (store *stubStore) fail(method string) error {
	return store.failOn[method]
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.Lock()
	snapshot := store.current().clone()
	store.mu.Unlock()
	txStore := *store
	txStore.inTx = true
	if err := fn(ctx, &txStore); err != nil {
		store.mu.Lock()
		*store.state = snapshot
		store.mu.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateWallet(_ context.Context, userID UserID) (WalletAccount, error) {
	if err := store.fail("GetOrCreateWallet"); err != nil {
		return WalletAccount{}, err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	wallet, ok := store.current().wallets[userID.String()]
	if !ok {
		wallet = WalletAccount{UserID: userID}
		store.current().wallets[userID.String()] = wallet
	}
	return wallet, nil
}

func (store *stubStore) SaveWallet(_ context.Context, wallet WalletAccount) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if *store.walletConflicts > 0 {
		*store.walletConflicts--
		return ErrConcurrentUpdate
	}
	stored := store.current().wallets[wallet.UserID.String()]
	if stored.Version != wallet.Version {
		return ErrConcurrentUpdate
	}
	wallet.Version++
	store.current().wallets[wallet.UserID.String()] = wallet
	return nil
}

func (store *stubStore) InsertLedgerEntry(_ context.Context, entry LedgerEntry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if entry.ExternalRef != "" {
		if _, exists := store.current().externalRefs[entry.ExternalRef]; exists {
			return ErrDuplicateExternalRef
		}
		store.current().externalRefs[entry.ExternalRef] = struct{}{}
	}
	store.current().ledger = append(store.current().ledger, entry)
	return nil
}

func (store *stubStore) ListLedgerEntries(_ context.Context, query LedgerQuery) (LedgerPage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]LedgerEntry, 0)
	for index := len(store.current().ledger) - 1; index >= 0; index-- {
		entry := store.current().ledger[index]
		if !query.UserID.IsZero() && entry.UserID != query.UserID {
			continue
		}
		if query.Type != "" && entry.Type != query.Type {
			continue
		}
		matched = append(matched, entry)
	}
	return LedgerPage{Entries: pageOf(matched, query.Page), Total: int64(len(matched))}, nil
}

func (store *stubStore) SumLedgerAmount(_ context.Context, entryType EntryType, since time.Time) (Amount, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var total Amount
	for _, entry := range store.current().ledger {
		if entry.Type == entryType && !entry.CreatedAt.Before(since) {
			total += entry.Amount
		}
	}
	return total, nil
}

func (store *stubStore) GetOrCreateProfile(_ context.Context, userID UserID) (Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	profile, ok := store.current().profiles[userID.String()]
	if !ok {
		profile = NewProfile(userID)
		store.current().profiles[userID.String()] = profile
	}
	return cloneProfile(profile), nil
}

func (store *stubStore) GetProfile(_ context.Context, userID UserID) (Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	profile, ok := store.current().profiles[userID.String()]
	if !ok {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, userID)
	}
	return cloneProfile(profile), nil
}

func (store *stubStore) SaveProfile(_ context.Context, profile Profile) error {
	if err := store.fail("SaveProfile"); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	stored, ok := store.current().profiles[profile.UserID.String()]
	if ok && stored.Version != profile.Version {
		return ErrConcurrentUpdate
	}
	profile = cloneProfile(profile)
	profile.Version++
	store.current().profiles[profile.UserID.String()] = profile
	return nil
}

func (store *stubStore) sortedProfiles() []Profile {
	profiles := make([]Profile, 0, len(store.current().profiles))
	for _, profile := range store.current().profiles {
		profiles = append(profiles, cloneProfile(profile))
	}
	sort.Slice(profiles, func(left, right int) bool {
		return profiles[left].UserID.String() < profiles[right].UserID.String()
	})
	return profiles
}

func (store *stubStore) ListDueVipUsers(_ context.Context, now time.Time, limit int) ([]UserID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	userIDs := make([]UserID, 0)
	for _, profile := range store.sortedProfiles() {
		if isVipDue(profile.Vip, now) && len(userIDs) < limit {
			userIDs = append(userIDs, profile.UserID)
		}
	}
	return userIDs, nil
}

func (store *stubStore) ListDailyVipUsers(_ context.Context, afterUserID string, limit int) ([]UserID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	userIDs := make([]UserID, 0)
	for _, profile := range store.sortedProfiles() {
		if profile.UserID.String() <= afterUserID || len(userIDs) >= limit {
			continue
		}
		if profile.Vip.IsActive || profile.Vip.DailyUsedSlots > 0 || len(profile.Vip.CurrentVipPosts) > 0 {
			userIDs = append(userIDs, profile.UserID)
		}
	}
	return userIDs, nil
}

func (store *stubStore) activeProfiles(now time.Time) []Profile {
	active := make([]Profile, 0)
	for _, profile := range store.sortedProfiles() {
		if profile.Vip.IsActive && profile.Vip.ExpiredAt.After(now) {
			active = append(active, profile)
		}
	}
	return active
}

func (store *stubStore) ListVipProfiles(_ context.Context, query VipUserQuery) ([]Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	active := store.activeProfiles(query.Now)
	sort.SliceStable(active, func(left, right int) bool {
		return active[left].Vip.ExpiredAt.Before(active[right].Vip.ExpiredAt)
	})
	return pageOf(active, query.Page), nil
}

func (store *stubStore) CountActiveVip(_ context.Context, now time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return int64(len(store.activeProfiles(now))), nil
}

func (store *stubStore) TopActiveVipType(_ context.Context, now time.Time) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	counts := make(map[string]int)
	for _, profile := range store.activeProfiles(now) {
		counts[profile.Vip.VipType]++
	}
	top := ""
	for vipType, count := range counts {
		if top == "" || count > counts[top] || (count == counts[top] && vipType < top) {
			top = vipType
		}
	}
	return top, nil
}

func (store *stubStore) InsertPointLog(_ context.Context, entry PointLogEntry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().pointLogs = append(store.current().pointLogs, entry)
	return nil
}

func (store *stubStore) ListPointLogs(_ context.Context, query PointLogQuery) (PointLogPage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]PointLogEntry, 0)
	for index := len(store.current().pointLogs) - 1; index >= 0; index-- {
		entry := store.current().pointLogs[index]
		if !query.UserID.IsZero() && entry.UserID != query.UserID {
			continue
		}
		if query.Type != "" && entry.Type != query.Type {
			continue
		}
		if query.Action != "" && entry.Action != query.Action {
			continue
		}
		if query.ActionPrefix != "" && !strings.HasPrefix(string(entry.Action), query.ActionPrefix) {
			continue
		}
		matched = append(matched, entry)
	}
	return PointLogPage{Entries: pageOf(matched, query.Page), Total: int64(len(matched))}, nil
}

func (store *stubStore) PointTotals(_ context.Context) (PointStats, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var stats PointStats
	for _, profile := range store.current().profiles {
		stats.TotalAvailable += profile.Points
	}
	for _, entry := range store.current().pointLogs {
		if entry.Type == PointEarn {
			stats.TotalDistributed += entry.Points
		} else {
			stats.TotalRedeemed += entry.Points
		}
	}
	return stats, nil
}

func (store *stubStore) GetPackage(_ context.Context, packageID PackageID) (VipPackage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	vipPackage, ok := store.current().packages[packageID.String()]
	if !ok {
		return VipPackage{}, fmt.Errorf("%w: package %s", ErrNotFound, packageID)
	}
	return vipPackage, nil
}

func (store *stubStore) FindPackageByName(_ context.Context, fragment string) (VipPackage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	candidates := make([]VipPackage, 0)
	for _, vipPackage := range store.current().packages {
		if vipPackage.IsActive && strings.Contains(strings.ToLower(vipPackage.Name), strings.ToLower(fragment)) {
			candidates = append(candidates, vipPackage)
		}
	}
	if len(candidates) == 0 {
		return VipPackage{}, fmt.Errorf("%w: package matching %q", ErrNotFound, fragment)
	}
	sort.Slice(candidates, func(left, right int) bool { return candidates[left].Price < candidates[right].Price })
	return candidates[0], nil
}

func (store *stubStore) ListPackages(_ context.Context, activeOnly bool) ([]VipPackage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	packages := make([]VipPackage, 0)
	for _, vipPackage := range store.current().packages {
		if activeOnly && !vipPackage.IsActive {
			continue
		}
		packages = append(packages, vipPackage)
	}
	sort.Slice(packages, func(left, right int) bool { return packages[left].Name < packages[right].Name })
	return packages, nil
}

func (store *stubStore) CreatePackage(_ context.Context, vipPackage VipPackage) (VipPackage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if vipPackage.PackageID.IsZero() {
		store.current().sequence++
		vipPackage.PackageID = PackageID{value: fmt.Sprintf("pkg-%d", store.current().sequence)}
	}
	store.current().packages[vipPackage.PackageID.String()] = vipPackage
	return vipPackage, nil
}

func (store *stubStore) UpdatePackage(_ context.Context, vipPackage VipPackage) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().packages[vipPackage.PackageID.String()] = vipPackage
	return nil
}

func (store *stubStore) ClearPopularPackages(_ context.Context, except PackageID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for key, vipPackage := range store.current().packages {
		if vipPackage.PackageID != except {
			vipPackage.IsPopular = false
			store.current().packages[key] = vipPackage
		}
	}
	return nil
}

func (store *stubStore) GetPost(_ context.Context, postID PostID) (Post, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	post, ok := store.current().posts[postID.String()]
	if !ok {
		return Post{}, fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}
	return post, nil
}

func (store *stubStore) GetPosts(_ context.Context, postIDs []PostID) ([]Post, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	posts := make([]Post, 0, len(postIDs))
	for _, postID := range postIDs {
		if post, ok := store.current().posts[postID.String()]; ok {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func (store *stubStore) SetPostVip(_ context.Context, postIDs []PostID, vip PostVip) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, postID := range postIDs {
		post := store.current().posts[postID.String()]
		post.Vip = vip
		store.current().posts[postID.String()] = post
	}
	return nil
}

func (store *stubStore) ClearPostVip(_ context.Context, ownerID UserID, postIDs []PostID) error {
	if store.failClearPostVipUser == ownerID.String() {
		return errors.New("post store unavailable")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, postID := range postIDs {
		post, ok := store.current().posts[postID.String()]
		if !ok || post.OwnerID != ownerID {
			continue
		}
		post.Vip = PostVip{}
		store.current().posts[postID.String()] = post
	}
	return nil
}

func (store *stubStore) FindLead(_ context.Context, buyerID UserID, postID PostID, leadType LeadType) (Lead, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, lead := range store.current().leads {
		if lead.BuyerID == buyerID && lead.PostID == postID && lead.Type == leadType {
			return lead, true, nil
		}
	}
	return Lead{}, false, nil
}

func (store *stubStore) InsertLead(_ context.Context, lead Lead) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().leads = append(store.current().leads, lead)
	return nil
}

func (store *stubStore) CountLeadsSince(_ context.Context, buyerID UserID, leadType LeadType, since time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for _, lead := range store.current().leads {
		if lead.BuyerID == buyerID && lead.Type == leadType && !lead.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) CreateWithdrawRequest(_ context.Context, request WithdrawRequest) (WithdrawRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().withdrawals[request.RequestID.String()] = request
	return request, nil
}

func (store *stubStore) GetWithdrawRequest(_ context.Context, requestID RequestID) (WithdrawRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	request, ok := store.current().withdrawals[requestID.String()]
	if !ok {
		return WithdrawRequest{}, fmt.Errorf("%w: withdraw request %s", ErrNotFound, requestID)
	}
	return request, nil
}

func (store *stubStore) TransitionWithdrawRequest(_ context.Context, transition WithdrawTransition) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	request, ok := store.current().withdrawals[transition.RequestID.String()]
	if !ok || request.Status != transition.From {
		return ErrAlreadyProcessed
	}
	request.Status = transition.To
	request.AdminNote = transition.AdminNote
	request.ProcessedAt = transition.ProcessedAt
	store.current().withdrawals[transition.RequestID.String()] = request
	return nil
}

func (store *stubStore) SetWithdrawEscalation(_ context.Context, requestID RequestID, from int, to int) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	request, ok := store.current().withdrawals[requestID.String()]
	if !ok || request.EscalationLevel != from {
		return ErrAlreadyProcessed
	}
	request.EscalationLevel = to
	store.current().withdrawals[requestID.String()] = request
	return nil
}

func (store *stubStore) sortedWithdrawals() []WithdrawRequest {
	requests := make([]WithdrawRequest, 0, len(store.current().withdrawals))
	for _, request := range store.current().withdrawals {
		requests = append(requests, request)
	}
	sort.Slice(requests, func(left, right int) bool {
		if !requests[left].RequestedAt.Equal(requests[right].RequestedAt) {
			return requests[left].RequestedAt.Before(requests[right].RequestedAt)
		}
		return requests[left].RequestID.value < requests[right].RequestID.value
	})
	return requests
}

func (store *stubStore) ListWithdrawRequests(_ context.Context, query WithdrawQuery) (WithdrawPage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]WithdrawRequest, 0)
	requests := store.sortedWithdrawals()
	for index := len(requests) - 1; index >= 0; index-- {
		request := requests[index]
		if !query.UserID.IsZero() && request.UserID != query.UserID {
			continue
		}
		if query.Status != "" && request.Status != query.Status {
			continue
		}
		matched = append(matched, request)
	}
	return WithdrawPage{Requests: pageOf(matched, query.Page), Total: int64(len(matched))}, nil
}

func (store *stubStore) ListPendingWithdrawRequests(_ context.Context, requestedBefore time.Time, after WithdrawCursor, limit int) ([]WithdrawRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	pending := make([]WithdrawRequest, 0)
	for _, request := range store.sortedWithdrawals() {
		if request.Status == WithdrawPending && !request.RequestedAt.After(requestedBefore) && after.precedes(request) && len(pending) < limit {
			pending = append(pending, request)
		}
	}
	return pending, nil
}

func (store *stubStore) GetOrCreatePaymentIntent(_ context.Context, userID UserID, candidateCode string) (PaymentIntent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, intent := range store.current().intents {
		if intent.UserID == userID {
			return intent, nil
		}
	}
	intent := PaymentIntent{Code: candidateCode, UserID: userID}
	store.current().intents[candidateCode] = intent
	return intent, nil
}

func (store *stubStore) FindPaymentIntent(_ context.Context, code string) (PaymentIntent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	intent, ok := store.current().intents[code]
	if !ok {
		return PaymentIntent{}, fmt.Errorf("%w: payment intent", ErrNotFound)
	}
	return intent, nil
}

func (store *stubStore) putPackage(vipPackage VipPackage) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().packages[vipPackage.PackageID.String()] = vipPackage
}

func (store *stubStore) putPost(post Post) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().posts[post.PostID.String()] = post
}

func (store *stubStore) putProfile(profile Profile) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().profiles[profile.UserID.String()] = cloneProfile(profile)
}

func (store *stubStore) putWithdrawal(request WithdrawRequest) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.current().withdrawals[request.RequestID.String()] = request
}

func (store *stubStore) mustProfile(test *testing.T, userID UserID) Profile {
	test.Helper()
	profile, err := store.GetProfile(context.Background(), userID)
	if err != nil {
		test.Fatalf("profile %s: %v", userID, err)
	}
	return profile
}

func (store *stubStore) mustWallet(test *testing.T, userID UserID) WalletAccount {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	wallet, ok := store.current().wallets[userID.String()]
	if !ok {
		test.Fatalf("wallet %s missing", userID)
	}
	return wallet
}

func (store *stubStore) post(postID PostID) Post {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.current().posts[postID.String()]
}

func (store *stubStore) ledgerFor(userID UserID) []LedgerEntry {
	store.mu.Lock()
	defer store.mu.Unlock()
	entries := make([]LedgerEntry, 0)
	for _, entry := range store.current().ledger {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (store *stubStore) pointLogsFor(userID UserID) []PointLogEntry {
	store.mu.Lock()
	defer store.mu.Unlock()
	entries := make([]PointLogEntry, 0)
	for _, entry := range store.current().pointLogs {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func pageOf[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

type stubCodeStore struct {
	mu    sync.Mutex
	codes map[string]WithdrawCode
}

func newStubCodeStore() *stubCodeStore {
	return &stubCodeStore{codes: make(map[string]WithdrawCode)}
}

func (codes *stubCodeStore) PutWithdrawCode(_ context.Context, code WithdrawCode) error {
	codes.mu.Lock()
	defer codes.mu.Unlock()
	codes.codes[code.UserID.String()] = code
	return nil
}

func (codes *stubCodeStore) GetWithdrawCode(_ context.Context, userID UserID) (WithdrawCode, error) {
	codes.mu.Lock()
	defer codes.mu.Unlock()
	code, ok := codes.codes[userID.String()]
	if !ok {
		return WithdrawCode{}, ErrNotFound
	}
	return code, nil
}

func (codes *stubCodeStore) RecordFailedAttempt(_ context.Context, userID UserID) (int, error) {
	codes.mu.Lock()
	defer codes.mu.Unlock()
	code, ok := codes.codes[userID.String()]
	if !ok {
		return 0, ErrNotFound
	}
	code.Attempts++
	codes.codes[userID.String()] = code
	return code.Attempts, nil
}

func (codes *stubCodeStore) DeleteWithdrawCode(_ context.Context, userID UserID) error {
	codes.mu.Lock()
	defer codes.mu.Unlock()
	delete(codes.codes, userID.String())
	return nil
}

func (codes *stubCodeStore) has(userID UserID) bool {
	codes.mu.Lock()
	defer codes.mu.Unlock()
	_, ok := codes.codes[userID.String()]
	return ok
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	err           error
}

func (notifier *recordingNotifier) Notify(_ context.Context, notifications []Notification) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.notifications = append(notifier.notifications, notifications...)
	return notifier.err
}

func (notifier *recordingNotifier) kinds(audience Audience) []NotificationKind {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	kinds := make([]NotificationKind, 0)
	for _, notification := range notifier.notifications {
		if notification.Audience == audience {
			kinds = append(kinds, notification.Kind)
		}
	}
	return kinds
}

type capturingCodeSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (sender *capturingCodeSender) SendWithdrawCode(_ context.Context, userID UserID, code string, _ time.Time) error {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.codes == nil {
		sender.codes = make(map[string]string)
	}
	sender.codes[userID.String()] = code
	return nil
}

func (sender *capturingCodeSender) last(userID UserID) string {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	return sender.codes[userID.String()]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type serviceFixture struct {
	service  *Service
	store    *stubStore
	codes    *stubCodeStore
	clock    *testClock
	notifier *recordingNotifier
	sender   *capturingCodeSender
}

func newServiceFixture(test *testing.T, options ...ServiceOption) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		store:    newStubStore(test),
		codes:    newStubCodeStore(),
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
		sender:   &capturingCodeSender{},
	}
	baseOptions := []ServiceOption{
		WithNotifier(fixture.notifier),
		WithCodeSender(fixture.sender),
		WithCodeHashCost(bcrypt.MinCost),
	}
	service, err := NewService(fixture.store, fixture.codes, fixture.clock.Now, append(baseOptions, options...)...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	fixture.service = service
	return fixture
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustPostID(test *testing.T, raw string) PostID {
	test.Helper()
	postID, err := NewPostID(raw)
	if err != nil {
		test.Fatalf("post id: %v", err)
	}
	return postID
}

func mustPackageID(test *testing.T, raw string) PackageID {
	test.Helper()
	packageID, err := NewPackageID(raw)
	if err != nil {
		test.Fatalf("package id: %v", err)
	}
	return packageID
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewPositiveAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func adminActor(test *testing.T) Actor {
	test.Helper()
	return Actor{UserID: mustUserID(test, "admin-1"), Role: RoleAdmin}
}

func goldPackage(test *testing.T) VipPackage {
	test.Helper()
	return VipPackage{
		PackageID:      mustPackageID(test, "pkg-gold"),
		Name:           "VIP Gold",
		Price:          300000,
		DurationDays:   30,
		PriorityScore:  30,
		LimitViewPhone: 2,
		PostLimit:      2,
		IsActive:       true,
	}
}

func testBank() BankDetails {
	return BankDetails{BankName: "Vietcombank", AccountNumber: "0123456789", AccountName: "NGUYEN VAN A"}
}

func (fixture *serviceFixture) fund(test *testing.T, userID UserID, amount int64) {
	test.Helper()
	if _, err := fixture.service.TopUp(context.Background(), userID, mustAmount(test, amount), "test"); err != nil {
		test.Fatalf("fund: %v", err)
	}
}

func (fixture *serviceFixture) activeVip(test *testing.T, userID UserID, vipPackage VipPackage, remaining time.Duration) {
	test.Helper()
	profile := NewProfile(userID)
	profile.Vip = VipEntitlement{
		IsActive:      true,
		VipType:       vipPackage.Name,
		PackageID:     vipPackage.PackageID,
		PriorityScore: vipPackage.PriorityScore,
		StartedAt:     fixture.clock.Now().Add(-time.Hour),
		ExpiredAt:     fixture.clock.Now().Add(remaining),
	}
	fixture.store.putProfile(profile)
}
