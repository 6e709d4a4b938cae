package captcha

import "errors"

const (
	CapErrZeroBalance          = "ERROR_ZERO_BALANCE"
	CapErrKeyDoesNotExist      = "ERROR_KEY_DOES_NOT_EXIST"
	CapErrTaskNotFound         = "ERROR_TASK_NOT_FOUND"
	CapErrCaptchaUnsolvable    = "ERROR_CAPTCHA_UNSOLVABLE"
	CapErrInvalidTaskData      = "ERROR_INVALID_TASK_DATA"
	CapErrMaxRequestsPerMinute = "ERROR_TOO_MANY_REQUESTS"
)

const (
	TwoErrZeroBalance       = "ERROR_ZERO_BALANCE"
	TwoErrNoSlots           = "ERROR_NO_SLOT_AVAILABLE"
	TwoErrCaptchaUnsolvable = "ERROR_CAPTCHA_UNSOLVABLE"
	TwoErrWrongUserKey      = "ERROR_WRONG_USER_KEY"
	TwoErrKeyDoesNotExist   = "ERROR_KEY_DOES_NOT_EXIST"
	TwoErrRecaptchaInvalid  = "ERROR_RECAPTCHA_INVALID_SITEKEY"
)

// Task statuses reported by getTaskResult.
const (
	statusProcessing = "processing"
	statusIdle       = "idle"
	statusReady      = "ready"
	statusFailed     = "failed"
)

var (
	ErrZeroBalance   = errors.New("captcha solver zero balance")
	ErrLowBalance    = errors.New("captcha solver balance below threshold")
	ErrPollExhausted = errors.New("captcha task not ready before poll budget ran out")
	ErrUnsolvable    = errors.New("captcha reported unsolvable")
	ErrNoSolver      = errors.New("no captcha solver configured")
	ErrEmptyToken    = errors.New("captcha solver returned empty token")
	ErrInvalidKey    = errors.New("captcha solver rejected api key")
	ErrTaskRejected  = errors.New("captcha solver rejected task data")
	ErrProviderBusy  = errors.New("captcha provider temporarily unavailable")
)

// Default challenge served by the activity check page.
const (
	PawsSiteKey = "6Lda_s0qAAAAAItgCSBeQN_DVlM9YOk9MccqMG6_"
	PawsPageURL = "https://paws.community/app?tab=claim"
	PawsAction  = "submit"
)
