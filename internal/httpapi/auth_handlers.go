package httpapi

import (
	"net/http"

	"tenantgate.io/internal/auth"
)

type profileRequest struct {
	FullName       string `json:"full_name"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	SecondaryEmail string `json:"secondary_email"`
	SecondaryPhone string `json:"secondary_phone"`
	Address        string `json:"address"`
}

type signUpRequest struct {
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Phone    string          `json:"primary_phone"`
	Password string          `json:"password"`
	TenantID string          `json:"tenant_id"`
	Profile  *profileRequest `json:"profile"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"primary_phone"`
	Password string `json:"password"`
}

type contactRequest struct {
	Email string `json:"email"`
	Phone string `json:"primary_phone"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Phone string `json:"primary_phone"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"primary_phone"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !bind(w, r, &req) {
		return
	}
	in := auth.SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		TenantID: req.TenantID,
	}
	if p := req.Profile; p != nil {
		in.Profile = &auth.ProfileInput{
			FullName:       p.FullName,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			SecondaryEmail: p.SecondaryEmail,
			SecondaryPhone: p.SecondaryPhone,
			Address:        p.Address,
		}
	}
	res, err := a.auth.SignUp(r.Context(), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.auth.SignIn(r.Context(), auth.SignInInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.auth.VerifyOTP(r.Context(), auth.VerifyOTPInput{
		Email: req.Email,
		Phone: req.Phone,
		OTP:   req.OTP,
		IP:    clientIP(r),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.auth.ResendOTP(r.Context(), auth.Contact{Email: req.Email, Phone: req.Phone})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.auth.ForgotPassword(r.Context(), auth.Contact{Email: req.Email, Phone: req.Phone})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.auth.ResetPassword(r.Context(), auth.ResetPasswordInput{
		Email:       req.Email,
		Phone:       req.Phone,
		OTP:         req.OTP,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
