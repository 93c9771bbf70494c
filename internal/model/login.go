package model

// LoginErrorCode is sent to clients with rejected logins so the client can
// react to the specific reason.
type LoginErrorCode int

const (
	LoginOK                LoginErrorCode = 0
	LoginNameTaken         LoginErrorCode = 101
	LoginInvalidChars      LoginErrorCode = 102
	LoginNameTooLong       LoginErrorCode = 103
	LoginNameReserved      LoginErrorCode = 104
	LoginNameUnregistered  LoginErrorCode = 105
	LoginAccountBanned     LoginErrorCode = 107
	LoginIPBanned          LoginErrorCode = 108
	LoginEmailBanned       LoginErrorCode = 109
	LoginPasswordRequest   LoginErrorCode = 200
	LoginPasswordIncorrect LoginErrorCode = 203
	LoginTooManyAttempts   LoginErrorCode = 204
)

// LoginError carries the code and message for a rejected login
type LoginError struct {
	Code    LoginErrorCode
	Message string
}

func (e *LoginError) Error() string {
	return e.Message
}

// ForumBanType is the kind of account-level ban on a registered user
type ForumBanType string

const (
	ForumBanNone    ForumBanType = ""
	ForumBanAccount ForumBanType = "account"
	ForumBanIP      ForumBanType = "ip"
	ForumBanEmail   ForumBanType = "email"
)

// LoginCode maps a forum ban type to the login error code reported for it
func (t ForumBanType) LoginCode() LoginErrorCode {
	switch t {
	case ForumBanAccount:
		return LoginAccountBanned
	case ForumBanIP:
		return LoginIPBanned
	case ForumBanEmail:
		return LoginEmailBanned
	}
	return LoginOK
}
