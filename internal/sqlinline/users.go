package sqlinline

const userColumns = `id::text, coalesce(code, ''), coalesce(type, ''), monthly_credits, extra_credits,
    coalesce(total_gen_cycle, 0), last_generation_time, group_id, coalesce(user_api_key, ''), coalesce(video_count, 0)`

const QSelectUserByID = `--sql 94af78f5-7e36-4fe4-b08e-971def1831b9
select ` + userColumns + `
from users
where id = $1::uuid;
`

const QIncrementVideoCount = `--sql 5d11a974-4583-442d-9ed8-d9f36bb8b90f
select increment_video_count($1::uuid);
`

const QSelectCooldownState = `--sql dd838161-337a-4f8f-976f-acb655a7a36a
select coalesce(total_gen_cycle, 0), last_generation_time
from users
where id = $1::uuid;
`

const QUpdateCooldownState = `--sql 009e1176-85a4-4b1c-a2fa-337b63ad85ad
update users
set total_gen_cycle = $2::int,
    last_generation_time = $3::timestamptz
where id = $1::uuid;
`

const QUpdateUserClass = `--sql 7f828dd0-0789-429a-a065-5c90e1aea380
update users
set type = $2::text
where id = $1::uuid
returning id::text, coalesce(code, ''), type;
`

const QDebitCredits = `--sql a5d33b9c-ceba-4272-b74c-f00776db73b2
update users
set monthly_credits = greatest(monthly_credits - $2::int, 0),
    extra_credits = extra_credits - greatest($2::int - greatest(monthly_credits, 0), 0)
where id = $1::uuid
  and monthly_credits + extra_credits >= $2::int
returning monthly_credits, extra_credits;
`

const QRefundCredits = `--sql afa9ae83-8d9b-416b-898c-0324cc123e0d
update users
set extra_credits = extra_credits + $2::int
where id = $1::uuid
returning monthly_credits, extra_credits;
`

const QTopUpCredits = `--sql 2e959491-96ff-4678-9b76-090cd8458d51
update users
set monthly_credits = monthly_credits + $2::int,
    extra_credits = extra_credits + $3::int
where id = $1::uuid
returning monthly_credits, extra_credits;
`

const QSelectBalance = `--sql 2344c622-df55-4819-b336-7c2a37095139
select monthly_credits, extra_credits
from users
where id = $1::uuid;
`
