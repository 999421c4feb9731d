// Package forms decodes and validates submitted HTML forms.
package forms

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/go-playground/validator/v10"
)

// BirthDateLayout is the only accepted birth date format (dd-mm-yyyy).
const BirthDateLayout = "02-01-2006"

const maxMemory = 32 << 20

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@.+_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("birthdate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(BirthDateLayout, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	// bcrypt refuses longer input; max counts runes, this counts bytes.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= utils.MaxPasswordBytes
	})
	return v
}

// Errors maps a form field name to its message.
type Errors map[string]string

func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

func (e Errors) Get(field string) string {
	return e[field]
}

// check validates form tags and returns the field errors.
func check(form interface{}) Errors {
	errs := Errors{}
	err := validate.Struct(form)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.Add("__all__", err.Error())
		return errs
	}
	for _, fe := range verrs {
		errs.Add(fe.Field(), message(fe))
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "email":
		return "Enter a valid email address."
	case "birthdate":
		return "Enter a valid date in the format dd-mm-yyyy."
	case "username":
		return "Enter a valid username. Use letters, numbers and @/./+/-/_ only."
	case "password":
		return fmt.Sprintf("Ensure this value has at most %d bytes.", utils.MaxPasswordBytes)
	case "eqfield":
		return "The two password fields didn't match."
	}
	return "Enter a valid value."
}

// MaxUploadSize caps a whole upload request: one image plus the text fields.
const MaxUploadSize = utils.MaxImageSize + 1<<20

var errTooLarge = errors.New("request body too large")

// LimitBody stops reading the request body after MaxUploadSize bytes.
func LimitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
}

// parse reads both urlencoded and multipart bodies. Multipart bodies over
// MaxUploadSize yield errTooLarge.
func parse(r *http.Request) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseForm()
	}
	if r.ContentLength > MaxUploadSize {
		return errTooLarge
	}
	err := r.ParseMultipartForm(maxMemory)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errTooLarge
	}
	return err
}

func tooLargeMessage() string {
	return fmt.Sprintf("Image is larger than %d MB.", utils.MaxImageSize>>20)
}

// formFile returns the uploaded file header for field, or nil.
func formFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 || files[0].Filename == "" {
		return nil
	}
	return files[0]
}

func checkImage(errs Errors, field string, header *multipart.FileHeader, required bool) {
	if header == nil {
		if required {
			errs.Add(field, "This field is required.")
		}
		return
	}
	if !utils.IsValidImageType(header.Filename) {
		errs.Add(field, "Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
		return
	}
	if header.Size > utils.MaxImageSize {
		errs.Add(field, tooLargeMessage())
	}
}

// PostForm holds the post fields. Author is never read from the request.
type PostForm struct {
	Description string                `form:"description" validate:"required,max=5000"`
	Image       *multipart.FileHeader `form:"image" validate:"-"`
	Errors      Errors                `form:"-" validate:"-"`

	tooLarge bool
}

// DecodePost reads a post form. An oversized upload is not an error; the
// returned form fails validation instead.
func DecodePost(r *http.Request) (*PostForm, error) {
	if err := parse(r); err != nil {
		if errors.Is(err, errTooLarge) {
			return &PostForm{tooLarge: true}, nil
		}
		return nil, err
	}
	return &PostForm{
		Description: strings.TrimSpace(r.PostFormValue("description")),
		Image:       formFile(r, "image"),
	}, nil
}

// Valid validates the form. imageRequired is true on create and false on edit.
func (f *PostForm) Valid(imageRequired bool) bool {
	if f.tooLarge {
		f.Errors = Errors{"image": tooLargeMessage()}
		return false
	}
	f.Errors = check(f)
	checkImage(f.Errors, "image", f.Image, imageRequired)
	return len(f.Errors) == 0
}

type CommentForm struct {
	Text   string `form:"text" validate:"required,max=2000"`
	Errors Errors `form:"-" validate:"-"`
}

func DecodeComment(r *http.Request) (*CommentForm, error) {
	if err := parse(r); err != nil {
		return nil, err
	}
	return &CommentForm{Text: strings.TrimSpace(r.PostFormValue("text"))}, nil
}

func (f *CommentForm) Valid() bool {
	f.Errors = check(f)
	return len(f.Errors) == 0
}

// ProfileForm edits a profile. BirthDate keeps the raw input so it can be
// shown back to the user.
type ProfileForm struct {
	BirthDate string                `form:"birth_date" validate:"required,birthdate"`
	About     string                `form:"about" validate:"max=5000"`
	Avatar    *multipart.FileHeader `form:"avatar" validate:"-"`
	Errors    Errors                `form:"-" validate:"-"`

	tooLarge bool
}

func DecodeProfile(r *http.Request) (*ProfileForm, error) {
	if err := parse(r); err != nil {
		if errors.Is(err, errTooLarge) {
			return &ProfileForm{tooLarge: true}, nil
		}
		return nil, err
	}
	return &ProfileForm{
		BirthDate: strings.TrimSpace(r.PostFormValue("birth_date")),
		About:     strings.TrimSpace(r.PostFormValue("about")),
		Avatar:    formFile(r, "avatar"),
	}, nil
}

func (f *ProfileForm) Valid() bool {
	if f.tooLarge {
		f.Errors = Errors{"avatar": tooLargeMessage()}
		return false
	}
	f.Errors = check(f)
	checkImage(f.Errors, "avatar", f.Avatar, false)
	return len(f.Errors) == 0
}

// ParsedBirthDate returns the birth date of a valid form.
func (f *ProfileForm) ParsedBirthDate() time.Time {
	t, _ := time.Parse(BirthDateLayout, f.BirthDate)
	return t
}

type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
	Next     string `form:"next" validate:"-"`
}

func DecodeLogin(r *http.Request) (*LoginForm, error) {
	if err := parse(r); err != nil {
		return nil, err
	}
	return &LoginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
		Next:     r.FormValue("next"),
	}, nil
}

func (f *LoginForm) Valid() bool {
	return len(check(f)) == 0
}

type RegisterForm struct {
	Username  string `form:"username" validate:"required,max=150,username"`
	Email     string `form:"email" validate:"required,email,max=254"`
	Password  string `form:"password1" validate:"required,min=8,password"`
	Password2 string `form:"password2" validate:"required,eqfield=Password"`
	Errors    Errors `form:"-" validate:"-"`
}

func DecodeRegister(r *http.Request) (*RegisterForm, error) {
	if err := parse(r); err != nil {
		return nil, err
	}
	return &RegisterForm{
		Username:  strings.TrimSpace(r.PostFormValue("username")),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Password:  r.PostFormValue("password1"),
		Password2: r.PostFormValue("password2"),
	}, nil
}

func (f *RegisterForm) Valid() bool {
	f.Errors = check(f)
	return len(f.Errors) == 0
}

type PasswordResetForm struct {
	Email  string `form:"email" validate:"required,email"`
	Errors Errors `form:"-" validate:"-"`
}

func DecodePasswordReset(r *http.Request) (*PasswordResetForm, error) {
	if err := parse(r); err != nil {
		return nil, err
	}
	return &PasswordResetForm{Email: strings.TrimSpace(r.PostFormValue("email"))}, nil
}

func (f *PasswordResetForm) Valid() bool {
	f.Errors = check(f)
	return len(f.Errors) == 0
}

type SetPasswordForm struct {
	Password  string `form:"new_password1" validate:"required,min=8,password"`
	Password2 string `form:"new_password2" validate:"required,eqfield=Password"`
	Errors    Errors `form:"-" validate:"-"`
}

func DecodeSetPassword(r *http.Request) (*SetPasswordForm, error) {
	if err := parse(r); err != nil {
		return nil, err
	}
	return &SetPasswordForm{
		Password:  r.PostFormValue("new_password1"),
		Password2: r.PostFormValue("new_password2"),
	}, nil
}

func (f *SetPasswordForm) Valid() bool {
	f.Errors = check(f)
	return len(f.Errors) == 0
}
