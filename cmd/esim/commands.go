package main

import (
	"fmt"
	"time"

	"github.com/tendant/esimkit/pkg/client"
	"github.com/urfave/cli/v2"
)

func requireArg(cCtx *cli.Context, name string) (string, error) {
	v := cCtx.Args().First()
	if v == "" {
		return "", fmt.Errorf("missing argument <%s>", name)
	}
	return v, nil
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "login",
			Usage: "start an OAuth login with PKCE",
			Action: action(func(cCtx *cli.Context, a *app) error {
				_, err := a.oauth.StartLogin(cCtx.Context)
				return err
			}),
		},
		{
			Name:      "callback",
			Usage:     "finish a login from the redirect URL",
			ArgsUsage: "<redirect-url>",
			Action: action(func(cCtx *cli.Context, a *app) error {
				url, err := requireArg(cCtx, "redirect-url")
				if err != nil {
					return err
				}
				if err := a.oauth.ProcessCallback(cCtx.Context, url); err != nil {
					return err
				}
				fmt.Println("Logged in. Next: esim mfa")
				return nil
			}),
		},
		{
			Name:      "cookie",
			Usage:     "log in with a carrier web session cookie",
			ArgsUsage: "<cookie>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "accept-partial", Usage: "continue with the cookie alone when no API token can be derived"},
			},
			Action: action(func(cCtx *cli.Context, a *app) error {
				raw, err := requireArg(cCtx, "cookie")
				if err != nil {
					return err
				}
				result, err := a.cookie.VerifyCookie(cCtx.Context, raw)
				if err != nil {
					return err
				}
				switch {
				case result.Valid:
					fmt.Printf("Cookie verified (member %s). Next: esim mfa\n", result.MemberID)
				case result.PartialSuccess && cCtx.Bool("accept-partial"):
					if err := a.cookie.AcceptPartial(cCtx.Context); err != nil {
						return err
					}
					fmt.Println("Continuing with the cookie only. Next: esim mfa")
				case result.PartialSuccess:
					fmt.Println(result.Message)
					fmt.Println("Re-run with --accept-partial to continue anyway.")
				default:
					fmt.Println(result.Message)
				}
				return nil
			}),
		},
		{
			Name:  "monitor",
			Usage: "watch the stored cookie until it expires",
			Action: action(func(cCtx *cli.Context, a *app) error {
				a.cookie.StartValidityMonitor()
				defer a.cookie.StopValidityMonitor()
				fmt.Printf("Checking the cookie every %s. Ctrl-C to stop.\n", client.MonitorInterval)
				select {
				case <-a.cookie.Expired():
					fmt.Println("The cookie expired and the session was cleared. Log in again.")
				case <-cCtx.Context.Done():
				}
				return nil
			}),
		},
		{
			Name:  "mfa",
			Usage: "request a one-time code",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "channel", Value: "EMAIL", Usage: "EMAIL or TEXT"},
			},
			Action: action(func(cCtx *cli.Context, a *app) error {
				ch, err := a.mfa.SendMFAChallenge(cCtx.Context, cCtx.String("channel"))
				if err != nil {
					return err
				}
				fmt.Printf("Code sent by %s (via %s). Next: esim verify <code>\n", ch.Channel, ch.Via)
				return nil
			}),
		},
		{
			Name:      "verify",
			Usage:     "redeem the one-time code",
			ArgsUsage: "<code>",
			Action: action(func(cCtx *cli.Context, a *app) error {
				if _, err := a.mfa.ValidateMFACode(cCtx.Context, cCtx.Args().First()); err != nil {
					return err
				}
				fmt.Println("Verified. Next: esim member")
				return nil
			}),
		},
		{
			Name:  "member",
			Usage: "fetch the account details",
			Action: action(func(cCtx *cli.Context, a *app) error {
				m, err := a.esim.GetMemberInfo(cCtx.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Member %s (%s), phone %s\n", m.Name, m.ID, m.PhoneNumber)
				return nil
			}),
		},
		{
			Name:  "reserve",
			Usage: "reserve a new eSIM profile",
			Action: action(func(cCtx *cli.Context, a *app) error {
				e, err := a.esim.ReserveESim(cCtx.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Reserved %s, activation code %s\n", e.SSN, e.ActivationCode)
				return nil
			}),
		},
		{
			Name:  "swap-challenge",
			Usage: "request the SMS code that authorises a SIM swap",
			Action: action(func(cCtx *cli.Context, a *app) error {
				if _, err := a.mfa.SendSimSwapMFAChallenge(cCtx.Context); err != nil {
					return err
				}
				fmt.Println("Swap code sent. Next: esim sms-activate <code>")
				return nil
			}),
		},
		{
			Name:      "swap",
			Usage:     "swap to a reserved profile with an existing swap signature",
			ArgsUsage: "<activation-code>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "signature", Required: true},
				&cli.StringFlag{Name: "ref", Required: true},
			},
			Action: action(func(cCtx *cli.Context, a *app) error {
				e, err := a.esim.SwapSim(cCtx.Context, cCtx.Args().First(), cCtx.String("signature"), cCtx.String("ref"))
				if err != nil {
					return err
				}
				fmt.Printf("Swapped to %s\n", e.SSN)
				return nil
			}),
		},
		{
			Name:  "lpa",
			Usage: "fetch the profile download string",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "ssn", Usage: "defaults to the stored SSN"},
				&cli.IntFlag{Name: "retries", Value: client.DefaultMaxRetries, Usage: "poll attempts; 1 reads once"},
			},
			Action: action(func(cCtx *cli.Context, a *app) error {
				ssn := cCtx.String("ssn")
				if ssn == "" {
					ssn = a.store.Snapshot().ESimSSN
				}
				lpa, err := a.esim.WaitAndGetLPA(cCtx.Context, ssn, cCtx.Int("retries"))
				if err != nil {
					return err
				}
				fmt.Println(lpa)
				return nil
			}),
		},
		{
			Name:      "sms-activate",
			Usage:     "validate the SMS code, reserve, swap and wait for the profile",
			ArgsUsage: "<code>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "server", Usage: "run the whole sequence inside the BFF"},
			},
			Action: action(func(cCtx *cli.Context, a *app) error {
				code := cCtx.Args().First()
				run := a.esim.SMSActivateFlow
				if cCtx.Bool("server") {
					run = a.esim.SMSActivateViaServer
				}
				act, err := run(cCtx.Context, code)
				if err != nil {
					return err
				}
				fmt.Printf("SSN %s\nActivation code %s\n\n%s\n", act.ESim.SSN, act.ESim.ActivationCode, act.LPAString)
				return nil
			}),
		},
		{
			Name:      "auto-activate",
			Usage:     "confirm activation through the carrier web app (once per code)",
			ArgsUsage: "[activation-code]",
			Action: action(func(cCtx *cli.Context, a *app) error {
				steps, err := a.esim.AutoActivateESim(cCtx.Context, cCtx.Args().First())
				if err != nil {
					return err
				}
				fmt.Printf("Activation confirmed (%d steps)\n", len(steps))
				return nil
			}),
		},
		{
			Name:  "status",
			Usage: "show the session step and which values are stored",
			Action: action(func(cCtx *cli.Context, a *app) error {
				s := a.store.Snapshot()
				present := func(v string) string {
					if v == "" {
						return "-"
					}
					return "set"
				}
				fmt.Printf("step:            %s\n", s.CurrentStep)
				fmt.Printf("access token:    %s\n", present(s.AccessToken))
				fmt.Printf("cookie:          %s\n", present(s.Cookie))
				fmt.Printf("mfa ref:         %s\n", present(s.EmailCodeRef))
				fmt.Printf("mfa signature:   %s\n", present(s.EmailSignature))
				fmt.Printf("swap ref:        %s\n", present(s.SwapMFARef))
				fmt.Printf("member:          %s\n", present(s.MemberID))
				fmt.Printf("esim ssn:        %s\n", present(s.ESimSSN))
				fmt.Printf("activation code: %s\n", present(s.ESimActivationCode))
				fmt.Printf("download string: %s\n", present(s.LPAString))
				if exp := a.store.ExpiresAt(); !exp.IsZero() {
					fmt.Printf("expires:         %s\n", exp.Format(time.RFC3339))
				}
				return nil
			}),
		},
		{
			Name:  "clear",
			Usage: "forget the stored session",
			Action: action(func(cCtx *cli.Context, a *app) error {
				if err := a.store.Clear(cCtx.Context); err != nil {
					return err
				}
				fmt.Println("Session cleared.")
				return nil
			}),
		},
	}
}
